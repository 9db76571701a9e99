package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/OneOfOne/xxhash"
)

var (
	ErrLogCorruption = errors.New("wal: log header unreadable")
	ErrBadRecord     = errors.New("wal: bad record")
	ErrClosed        = errors.New("wal: log file closed")
	ErrUnknownTxn    = errors.New("wal: unknown transaction")
)

const (
	fileMagic = "GRDBWAL1"

	recMagic   uint32 = 0x4C415747 // "GWAL"
	recVersion uint16 = 1

	recBegin  uint8 = 1
	recWrite  uint8 = 2
	recCommit uint8 = 3

	// magic(4) ver(2) typ(1) rsv(1) totalLen(4) checksum(4)
	recHeaderSize = 16
)

type TxnID uint64

// Manager is an append-only redo log. Every page mutation is logged with its
// before and after image under a transaction id; a transaction with no
// commit marker is never applied during recovery.
type Manager struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	size    int64
	nextTxn TxnID
	sync    bool
	open    map[TxnID]struct{}
}

// Open opens or creates the log at path. syncOnCommit controls whether
// Commit fsyncs; disabling it trades durability for speed in tests.
func Open(path string, syncOnCommit bool) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: stat: %w", err)
	}

	m := &Manager{
		f:    f,
		path: path,
		sync: syncOnCommit,
		open: make(map[TxnID]struct{}),
	}

	if info.Size() < int64(len(fileMagic)) {
		if err := m.writeFileHeader(); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else {
		hdr := make([]byte, len(fileMagic))
		if _, err := f.ReadAt(hdr, 0); err != nil {
			_ = f.Close()
			return nil, ErrLogCorruption
		}
		if string(hdr) != fileMagic {
			_ = f.Close()
			return nil, ErrLogCorruption
		}
		m.size = info.Size()
		m.initNextTxn()
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: seek end: %w", err)
	}
	return m, nil
}

func (m *Manager) writeFileHeader() error {
	if err := m.f.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := m.f.WriteAt([]byte(fileMagic), 0); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync header: %w", err)
	}
	if _, err := m.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wal: seek end: %w", err)
	}
	m.size = int64(len(fileMagic))
	return nil
}

// initNextTxn scans for the highest transaction id so restarts never reuse
// one. Torn tails are tolerated here; Recover truncates them.
func (m *Manager) initNextTxn() {
	var last TxnID
	_, _ = m.scan(func(rec *decodedRecord) error {
		if TxnID(rec.txn) > last {
			last = TxnID(rec.txn)
		}
		return nil
	})
	m.nextTxn = last
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

// Size returns the current log length in bytes, used by the engine's
// checkpoint threshold.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Begin allocates a transaction id and logs a begin marker.
func (m *Manager) Begin() (TxnID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return 0, ErrClosed
	}
	m.nextTxn++
	txn := m.nextTxn
	if err := m.append(recBegin, txn, 0, nil, nil); err != nil {
		return 0, err
	}
	m.open[txn] = struct{}{}
	return txn, nil
}

// LogWrite appends the before/after images of one page mutation. The caller
// must not flush the page to the data file before Commit returns.
func (m *Manager) LogWrite(txn TxnID, pageID uint32, before, after []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrClosed
	}
	if _, ok := m.open[txn]; !ok {
		return ErrUnknownTxn
	}
	return m.append(recWrite, txn, pageID, before, after)
}

// Commit writes the commit marker and forces the log to disk. Once it
// returns the transaction is durable.
func (m *Manager) Commit(txn TxnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrClosed
	}
	if _, ok := m.open[txn]; !ok {
		return ErrUnknownTxn
	}
	if err := m.append(recCommit, txn, 0, nil, nil); err != nil {
		return err
	}
	delete(m.open, txn)
	if m.sync {
		if err := m.f.Sync(); err != nil {
			return fmt.Errorf("wal: sync commit: %w", err)
		}
	}
	return nil
}

// Abandon drops an uncommitted transaction. Its records stay in the log but
// recovery ignores them for want of a commit marker.
func (m *Manager) Abandon(txn TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, txn)
}

// append writes one framed record:
//
//	magic(4) ver(2) typ(1) rsv(1) totalLen(4) checksum(4)
//	txn(8) [pageID(4) beforeLen(4) before afterLen(4) after]
//
// checksum covers everything after itself.
func (m *Manager) append(typ uint8, txn TxnID, pageID uint32, before, after []byte) error {
	bodyLen := 8
	if typ == recWrite {
		bodyLen += 4 + 4 + len(before) + 4 + len(after)
	}
	totalLen := recHeaderSize + bodyLen

	buf := make([]byte, totalLen)
	binary.LittleEndian.PutUint32(buf[0:], recMagic)
	binary.LittleEndian.PutUint16(buf[4:], recVersion)
	buf[6] = typ
	buf[7] = 0
	binary.LittleEndian.PutUint32(buf[8:], uint32(totalLen))

	off := recHeaderSize
	binary.LittleEndian.PutUint64(buf[off:], uint64(txn))
	off += 8
	if typ == recWrite {
		binary.LittleEndian.PutUint32(buf[off:], pageID)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(before)))
		off += 4
		off += copy(buf[off:], before)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(after)))
		off += 4
		off += copy(buf[off:], after)
	}
	if off != totalLen {
		return ErrBadRecord
	}

	binary.LittleEndian.PutUint32(buf[12:], xxhash.Checksum32(buf[recHeaderSize:]))

	if _, err := m.f.Write(buf); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	m.size += int64(totalLen)
	return nil
}
