package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wal")
	m, err := Open(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, path
}

// applied collects replayed page images in order.
type applied struct {
	pages  []uint32
	images [][]byte
}

func (a *applied) apply(pageID uint32, image []byte) error {
	a.pages = append(a.pages, pageID)
	a.images = append(a.images, image)
	return nil
}

func TestRecover_ReplaysCommittedTransactions(t *testing.T) {
	m, path := newTestLog(t)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(txn, 3, []byte("old"), []byte("new")))
	require.NoError(t, m.LogWrite(txn, 5, []byte("aaa"), []byte("bbb")))
	require.NoError(t, m.Commit(txn))
	require.NoError(t, m.Close())

	m2, err := Open(path, true)
	require.NoError(t, err)
	defer m2.Close()

	var got applied
	n, err := m2.Recover(got.apply)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uint32{3, 5}, got.pages)
	require.Equal(t, []byte("new"), got.images[0])
	require.Equal(t, []byte("bbb"), got.images[1])
}

func TestRecover_DiscardsUncommittedTransactions(t *testing.T) {
	m, path := newTestLog(t)

	committed, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(committed, 1, nil, []byte("keep")))
	require.NoError(t, m.Commit(committed))

	// no commit marker: records exist but must never be applied
	orphan, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(orphan, 2, nil, []byte("drop")))
	require.NoError(t, m.Close())

	m2, err := Open(path, true)
	require.NoError(t, err)
	defer m2.Close()

	var got applied
	n, err := m2.Recover(got.apply)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uint32{1}, got.pages)
}

func TestRecover_TruncatesTornTail(t *testing.T) {
	m, path := newTestLog(t)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(txn, 1, nil, []byte("first")))
	require.NoError(t, m.Commit(txn))
	goodSize := m.Size()

	txn2, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(txn2, 2, nil, []byte("second")))
	require.NoError(t, m.Commit(txn2))
	require.NoError(t, m.Close())

	// crash mid-record: cut into the second transaction
	require.NoError(t, os.Truncate(path, goodSize+5))

	m2, err := Open(path, true)
	require.NoError(t, err)
	defer m2.Close()

	var got applied
	n, err := m2.Recover(got.apply)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uint32{1}, got.pages)
	require.Equal(t, goodSize, m2.Size())

	// the torn bytes are gone from disk
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, goodSize, info.Size())
}

func TestRecover_ChecksumMismatchEndsDurablePrefix(t *testing.T) {
	m, path := newTestLog(t)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(txn, 1, nil, []byte("ok")))
	require.NoError(t, m.Commit(txn))
	goodSize := m.Size()

	txn2, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(txn2, 2, nil, []byte("corrupted")))
	require.NoError(t, m.Commit(txn2))
	require.NoError(t, m.Close())

	// flip a byte inside the second transaction's payload
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, goodSize+recHeaderSize+2)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m2, err := Open(path, true)
	require.NoError(t, err)
	defer m2.Close()

	var got applied
	n, err := m2.Recover(got.apply)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uint32{1}, got.pages)
}

func TestRecover_Idempotent(t *testing.T) {
	m, _ := newTestLog(t)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(txn, 1, nil, []byte("x")))
	require.NoError(t, m.Commit(txn))

	var first applied
	n1, err := m.Recover(first.apply)
	require.NoError(t, err)

	var second applied
	n2, err := m.Recover(second.apply)
	require.NoError(t, err)

	require.Equal(t, n1, n2)
	require.Equal(t, first.pages, second.pages)
	require.Equal(t, first.images, second.images)
}

func TestCheckpoint_TruncatesLog(t *testing.T) {
	m, _ := newTestLog(t)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(txn, 1, nil, make([]byte, 4096)))
	require.NoError(t, m.Commit(txn))
	require.Greater(t, m.Size(), int64(len(fileMagic)))

	flushed := false
	require.NoError(t, m.Checkpoint(func() error {
		flushed = true
		return nil
	}))
	require.True(t, flushed)
	require.Equal(t, int64(len(fileMagic)), m.Size())

	var got applied
	n, err := m.Recover(got.apply)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, got.pages)
}

func TestCheckpoint_FlushFailureKeepsLog(t *testing.T) {
	m, _ := newTestLog(t)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.LogWrite(txn, 1, nil, []byte("durable")))
	require.NoError(t, m.Commit(txn))
	size := m.Size()

	require.Error(t, m.Checkpoint(func() error { return os.ErrInvalid }))
	require.Equal(t, size, m.Size())
}

func TestOpen_BadHeaderIsLogCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wal")
	require.NoError(t, os.WriteFile(path, []byte("XXXXWAL9 trailing garbage"), 0o644))

	_, err := Open(path, true)
	require.ErrorIs(t, err, ErrLogCorruption)
}

func TestBegin_TxnIDsSurviveReopen(t *testing.T) {
	m, path := newTestLog(t)

	t1, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(t1))
	require.NoError(t, m.Close())

	m2, err := Open(path, true)
	require.NoError(t, err)
	defer m2.Close()

	t2, err := m2.Begin()
	require.NoError(t, err)
	require.Greater(t, t2, t1)
}

func TestLogWrite_UnknownTxn(t *testing.T) {
	m, _ := newTestLog(t)
	require.ErrorIs(t, m.LogWrite(99, 1, nil, nil), ErrUnknownTxn)
	require.ErrorIs(t, m.Commit(99), ErrUnknownTxn)
}
