package engine

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/pagestore"
	"github.com/gridbase/gridbase/internal/wal"
)

var log = logrus.WithField("component", "engine")

const (
	// MetaTable is the reserved key/value table every database carries,
	// hidden from ListTables.
	MetaTable = "_meta"

	formatVersion = "1.0"
)

type Options struct {
	// PageSize applies only when creating a new database; opened databases
	// use the size recorded in their header.
	PageSize int
	// SyncWrites controls whether commits fsync the WAL. Disabling it
	// forfeits crash durability.
	SyncWrites bool
	// CheckpointBytes is the WAL size that triggers an automatic
	// checkpoint after a commit.
	CheckpointBytes int64
}

func DefaultOptions() Options {
	return Options{
		PageSize:        4096,
		SyncWrites:      true,
		CheckpointBytes: 4 << 20,
	}
}

// Engine is the public face of the storage engine: one open database file
// plus its WAL. A single Engine instance is shared by all callers; writes
// take the exclusive lock, reads the shared one (see withWrite).
type Engine struct {
	mu     sync.RWMutex
	path   string
	opts   Options
	store  *pagestore.Store
	wal    *wal.Manager
	cat    *catalog.Catalog
	closed bool
}

// Create initializes a new database at path. Fails with ErrAlreadyExists
// when the file is taken.
func Create(path string, opts Options) (*Engine, error) {
	store, err := pagestore.Create(path, opts.PageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}

	w, err := wal.Open(walPath(path), opts.SyncWrites)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrapf(err, "create %s", path)
	}
	// a stale log from a deleted database must not replay into this one
	if err := w.Checkpoint(func() error { return nil }); err != nil {
		_ = store.Close()
		return nil, errors.Wrapf(err, "create %s", path)
	}

	e := &Engine{path: path, opts: opts, store: store, wal: w, cat: catalog.New(store)}

	err = e.withWrite(func() error {
		if err := e.cat.Init(); err != nil {
			return err
		}
		if _, err := e.cat.DefineTable(MetaTable, metaColumns()); err != nil {
			return err
		}
		if err := e.setMetaLocked("created_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}
		return e.setMetaLocked("version", formatVersion)
	})
	if err != nil {
		_ = w.Close()
		_ = store.Close()
		return nil, errors.Wrapf(err, "initialize %s", path)
	}

	log.WithFields(logrus.Fields{"path": path, "page_size": opts.PageSize}).Info("database created")
	return e, nil
}

// Open opens an existing database, runs WAL recovery and checkpoints the
// recovered state. Fails with ErrNotADatabase on a foreign file.
func Open(path string, opts Options) (*Engine, error) {
	store, err := pagestore.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	w, err := wal.Open(walPath(path), opts.SyncWrites)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}

	replayed, err := w.Recover(store.Write)
	if err != nil {
		_ = w.Close()
		_ = store.Close()
		return nil, errors.Wrapf(err, "recover %s", path)
	}
	if err := store.RebuildFreeSet(); err != nil {
		_ = w.Close()
		_ = store.Close()
		return nil, errors.Wrapf(err, "recover %s", path)
	}
	// recovered pages are durable once checkpointed; afterwards a second
	// recovery sees an empty log and changes nothing
	if err := w.Checkpoint(store.Flush); err != nil {
		_ = w.Close()
		_ = store.Close()
		return nil, errors.Wrapf(err, "checkpoint %s", path)
	}

	e := &Engine{path: path, opts: opts, store: store, wal: w, cat: catalog.New(store)}
	if err := e.cat.Load(); err != nil {
		_ = w.Close()
		_ = store.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}

	log.WithFields(logrus.Fields{
		"path":     path,
		"tables":   len(e.cat.List()),
		"replayed": replayed,
	}).Info("database opened")
	return e, nil
}

// Close flushes dirty pages, checkpoints the WAL and releases the handles.
// Skipping Close leaves the database consistent (recovery replays the WAL)
// but not checkpoint-compacted.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true

	var firstErr error
	if err := e.wal.Checkpoint(e.store.Flush); err != nil {
		firstErr = err
	}
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	log.WithField("path", e.path).Info("database closed")
	return firstErr
}

// Path returns the database file path.
func (e *Engine) Path() string { return e.path }

func walPath(path string) string { return path + ".wal" }

// withWrite runs fn under the exclusive lock as one WAL transaction: every
// page fn touches is captured, logged with its before and after image, and
// committed; on any error the buffered pages roll back and the in-memory
// catalog reloads from them, so no partial mutation is ever visible.
func (e *Engine) withWrite(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	e.store.StartCapture()
	if err := fn(); err != nil {
		e.rollback()
		return err
	}

	captured := e.store.Captured()
	if len(captured) == 0 {
		e.store.CommitCapture()
		return nil
	}

	txn, err := e.wal.Begin()
	if err != nil {
		e.rollback()
		return err
	}
	for _, cp := range captured {
		if err := e.wal.LogWrite(txn, cp.PageID, cp.Before, cp.After); err != nil {
			e.wal.Abandon(txn)
			e.rollback()
			return err
		}
	}
	if err := e.wal.Commit(txn); err != nil {
		e.wal.Abandon(txn)
		e.rollback()
		return err
	}
	e.store.CommitCapture()

	if e.wal.Size() >= e.opts.CheckpointBytes {
		if err := e.wal.Checkpoint(e.store.Flush); err != nil {
			// the commit is durable in the log; surface the flush failure
			// as retriable
			return err
		}
		log.WithField("path", e.path).Debug("checkpoint")
	}
	return nil
}

func (e *Engine) rollback() {
	e.store.RollbackCapture()
	if err := e.cat.Load(); err != nil {
		// pages were restored to the pre-transaction state, so a failing
		// reload means the invariant machinery itself is broken
		log.WithError(err).Error("catalog reload after rollback failed")
	}
}
