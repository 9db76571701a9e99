package pagestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	ErrNotADatabase  = errors.New("pagestore: not a database file")
	ErrAlreadyExists = errors.New("pagestore: database file already exists")
	ErrStorageFull   = errors.New("pagestore: cannot grow database file")
	ErrInvariant     = errors.New("pagestore: internal invariant violated")
	ErrIO            = errors.New("pagestore: i/o failure")
	ErrWrongSize     = errors.New("pagestore: buffer size != page size")
)

const (
	magic   uint32 = 0x42445247 // "GRDB"
	version uint16 = 1

	// Header page layout (page 0):
	// magic(4) version(2) pageSize(4) pageCount(4) freeHead(4) catalogRoot(4)
	offMagic       = 0
	offVersion     = 4
	offPageSize    = 6
	offPageCount   = 10
	offFreeHead    = 14
	offCatalogRoot = 18

	MinPageSize  = 512
	MaxPageSize  = 32768 // slot offsets are u16
	MaxPageCount = 1 << 31
)

// Store is a fixed-size page allocator over a single file. Writes are pure
// in-memory buffer mutations until Flush; the engine logs captured pages to
// the WAL before any flush reaches the data file.
type Store struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int

	pageCount   uint32
	freeHead    uint32
	catalogRoot uint32
	freeSet     map[uint32]struct{}

	dirty map[uint32][]byte

	capturing bool
	before    map[uint32][]byte
	snap      *snapshot
}

type snapshot struct {
	pageCount   uint32
	freeHead    uint32
	catalogRoot uint32
	freeSet     map[uint32]struct{}
	wasDirty    map[uint32]bool
}

// Create initializes a new database file with a header page.
// Fails with ErrAlreadyExists if the path is taken.
func Create(path string, pageSize int) (*Store, error) {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return nil, fmt.Errorf("pagestore: page size %d outside [%d, %d]", pageSize, MinPageSize, MaxPageSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}

	s := &Store{
		f:         f,
		path:      path,
		pageSize:  pageSize,
		pageCount: 1, // header page
		freeSet:   make(map[uint32]struct{}),
		dirty:     make(map[uint32][]byte),
	}

	hdr := make([]byte, pageSize)
	s.encodeHeader(hdr)
	if _, err := f.WriteAt(hdr, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: write header: %v", ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: sync header: %v", ErrIO, err)
	}
	return s, nil
}

// Open validates the header page and loads the free list.
// Fails with ErrNotADatabase when the file lacks the expected magic.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	probe := make([]byte, offCatalogRoot+4)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, int64(len(probe))), probe); err != nil {
		_ = f.Close()
		return nil, ErrNotADatabase
	}
	if binary.LittleEndian.Uint32(probe[offMagic:]) != magic {
		_ = f.Close()
		return nil, ErrNotADatabase
	}
	if binary.LittleEndian.Uint16(probe[offVersion:]) != version {
		_ = f.Close()
		return nil, ErrNotADatabase
	}
	pageSize := int(binary.LittleEndian.Uint32(probe[offPageSize:]))
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		_ = f.Close()
		return nil, ErrNotADatabase
	}

	s := &Store{
		f:           f,
		path:        path,
		pageSize:    pageSize,
		pageCount:   binary.LittleEndian.Uint32(probe[offPageCount:]),
		freeHead:    binary.LittleEndian.Uint32(probe[offFreeHead:]),
		catalogRoot: binary.LittleEndian.Uint32(probe[offCatalogRoot:]),
		dirty:       make(map[uint32][]byte),
	}
	if err := s.rebuildFreeSet(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) PageSize() int { return s.pageSize }

func (s *Store) PageCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCount
}

func (s *Store) CatalogRoot() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalogRoot
}

func (s *Store) SetCatalogRoot(pid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogRoot = pid
	return s.writeHeaderLocked()
}

// Read returns a copy of the page contents. Pages beyond the current file
// length read back zero-filled, matching lazy initialization by callers.
func (s *Store) Read(pid uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(pid)
}

func (s *Store) readLocked(pid uint32) ([]byte, error) {
	buf := make([]byte, s.pageSize)
	if d, ok := s.dirty[pid]; ok {
		copy(buf, d)
		return buf, nil
	}
	n, err := s.f.ReadAt(buf, int64(pid)*int64(s.pageSize))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read page %d: %v", ErrIO, pid, err)
	}
	for i := n; i < s.pageSize; i++ {
		buf[i] = 0
	}
	return buf, nil
}

// Write buffers the page in memory. Nothing reaches the file until Flush.
func (s *Store) Write(pid uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(pid, buf)
}

func (s *Store) writeLocked(pid uint32, buf []byte) error {
	if len(buf) != s.pageSize {
		return ErrWrongSize
	}
	if s.capturing {
		if _, seen := s.before[pid]; !seen {
			img, err := s.readLocked(pid)
			if err != nil {
				return err
			}
			s.before[pid] = img
		}
	}
	cp := make([]byte, s.pageSize)
	copy(cp, buf)
	s.dirty[pid] = cp
	if pid == 0 {
		s.decodeHeader(cp)
	}
	if pid >= s.pageCount {
		s.pageCount = pid + 1
		// keep the header's page count honest for replayed pages
		if err := s.writeHeaderLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every buffered page and fsyncs the file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pid, buf := range s.dirty {
		n, err := s.f.WriteAt(buf, int64(pid)*int64(s.pageSize))
		if err != nil {
			return fmt.Errorf("%w: flush page %d: %v", ErrIO, pid, err)
		}
		if n != s.pageSize {
			return fmt.Errorf("%w: short write on page %d", ErrIO, pid)
		}
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	s.dirty = make(map[uint32][]byte)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}

func (s *Store) encodeHeader(buf []byte) {
	binary.LittleEndian.PutUint32(buf[offMagic:], magic)
	binary.LittleEndian.PutUint16(buf[offVersion:], version)
	binary.LittleEndian.PutUint32(buf[offPageSize:], uint32(s.pageSize))
	binary.LittleEndian.PutUint32(buf[offPageCount:], s.pageCount)
	binary.LittleEndian.PutUint32(buf[offFreeHead:], s.freeHead)
	binary.LittleEndian.PutUint32(buf[offCatalogRoot:], s.catalogRoot)
}

func (s *Store) decodeHeader(buf []byte) {
	s.pageCount = binary.LittleEndian.Uint32(buf[offPageCount:])
	s.freeHead = binary.LittleEndian.Uint32(buf[offFreeHead:])
	s.catalogRoot = binary.LittleEndian.Uint32(buf[offCatalogRoot:])
}

func (s *Store) writeHeaderLocked() error {
	hdr, err := s.readLocked(0)
	if err != nil {
		return err
	}
	s.encodeHeader(hdr)
	// write without re-decoding: fields are already current
	if s.capturing {
		if _, seen := s.before[0]; !seen {
			img, err := s.readLocked(0)
			if err != nil {
				return err
			}
			s.before[0] = img
		}
	}
	s.dirty[0] = hdr
	return nil
}
