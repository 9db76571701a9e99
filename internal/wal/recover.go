package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/OneOfOne/xxhash"
)

type decodedRecord struct {
	typ    uint8
	txn    uint64
	pageID uint32
	before []byte
	after  []byte
}

// Recover replays the after-images of every committed transaction, in log
// order, through apply. Records of transactions without a commit marker are
// discarded. A torn or checksum-failing tail truncates the log at the last
// intact record; everything before it is the durable prefix.
//
// Returns the number of transactions replayed. Running Recover on an
// already-recovered log replays the same committed set again, which is
// idempotent because apply rewrites identical page images.
func (m *Manager) Recover(apply func(pageID uint32, image []byte) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return 0, ErrClosed
	}

	type loggedWrite struct {
		txn    uint64
		pageID uint32
		image  []byte
	}
	var writes []loggedWrite
	committed := make(map[uint64]struct{})

	goodEnd, err := m.scan(func(rec *decodedRecord) error {
		switch rec.typ {
		case recWrite:
			writes = append(writes, loggedWrite{txn: rec.txn, pageID: rec.pageID, image: rec.after})
		case recCommit:
			committed[rec.txn] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// drop the torn tail so a later scan sees only the durable prefix
	if goodEnd < m.size {
		if err := m.f.Truncate(goodEnd); err != nil {
			return 0, fmt.Errorf("wal: truncate torn tail: %w", err)
		}
		if _, err := m.f.Seek(0, io.SeekEnd); err != nil {
			return 0, fmt.Errorf("wal: seek end: %w", err)
		}
		m.size = goodEnd
	}

	for _, w := range writes {
		if _, ok := committed[w.txn]; !ok {
			continue
		}
		if err := apply(w.pageID, w.image); err != nil {
			return 0, err
		}
	}
	return len(committed), nil
}

// Checkpoint flushes all WAL-covered pages via flush, then truncates the log
// back to its file header.
func (m *Manager) Checkpoint(flush func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrClosed
	}
	if err := flush(); err != nil {
		return err
	}
	return m.writeFileHeader()
}

// scan walks the log from the file header, invoking fn per intact record.
// It returns the offset just past the last intact record. Corrupt or torn
// records end the scan without error.
func (m *Manager) scan(fn func(*decodedRecord) error) (int64, error) {
	if _, err := m.f.Seek(int64(len(fileMagic)), io.SeekStart); err != nil {
		return 0, fmt.Errorf("wal: seek: %w", err)
	}
	defer func() {
		_, _ = m.f.Seek(0, io.SeekEnd)
	}()

	r := bufio.NewReaderSize(m.f, 1<<20)
	goodEnd := int64(len(fileMagic))

	for {
		rec, n, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrBadRecord) {
				return goodEnd, nil
			}
			return goodEnd, err
		}
		if err := fn(rec); err != nil {
			return goodEnd, err
		}
		goodEnd += int64(n)
	}
}

// readRecord decodes one framed record. Any framing or checksum mismatch is
// reported as ErrBadRecord so the caller treats the rest as a torn tail.
func readRecord(r *bufio.Reader) (*decodedRecord, int, error) {
	hdr := make([]byte, recHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, 0, err
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != recMagic {
		return nil, 0, ErrBadRecord
	}
	if binary.LittleEndian.Uint16(hdr[4:]) != recVersion {
		return nil, 0, ErrBadRecord
	}
	typ := hdr[6]
	totalLen := binary.LittleEndian.Uint32(hdr[8:])
	wantSum := binary.LittleEndian.Uint32(hdr[12:])

	if totalLen < recHeaderSize+8 || totalLen > 1<<30 {
		return nil, 0, ErrBadRecord
	}

	body := make([]byte, totalLen-recHeaderSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, err
	}
	if xxhash.Checksum32(body) != wantSum {
		return nil, 0, ErrBadRecord
	}

	rec := &decodedRecord{typ: typ, txn: binary.LittleEndian.Uint64(body)}
	if typ == recWrite {
		off := 8
		if off+8 > len(body) {
			return nil, 0, ErrBadRecord
		}
		rec.pageID = binary.LittleEndian.Uint32(body[off:])
		off += 4
		beforeLen := int(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		if off+beforeLen+4 > len(body) {
			return nil, 0, ErrBadRecord
		}
		rec.before = append([]byte(nil), body[off:off+beforeLen]...)
		off += beforeLen
		afterLen := int(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		if off+afterLen != len(body) {
			return nil, 0, ErrBadRecord
		}
		rec.after = append([]byte(nil), body[off:off+afterLen]...)
	}
	return rec, int(totalLen), nil
}
