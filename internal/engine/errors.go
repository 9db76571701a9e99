package engine

import (
	"errors"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/heap"
	"github.com/gridbase/gridbase/internal/pagestore"
	"github.com/gridbase/gridbase/internal/wal"
)

// The full failure taxonomy, re-exported so callers match errors against one
// package. Every operation returns one of these (possibly wrapped) or nil;
// a failed operation never leaves a partial mutation behind.
var (
	ErrNotADatabase      = pagestore.ErrNotADatabase
	ErrAlreadyExists     = pagestore.ErrAlreadyExists
	ErrStorageFull       = pagestore.ErrStorageFull
	ErrInvariant         = pagestore.ErrInvariant
	ErrIO                = pagestore.ErrIO
	ErrLogCorruption     = wal.ErrLogCorruption
	ErrInvalidIdentifier = catalog.ErrInvalidIdentifier
	ErrDuplicateTable    = catalog.ErrDuplicateTable
	ErrDuplicateColumn   = catalog.ErrDuplicateColumn
	ErrUnknownTable      = catalog.ErrUnknownTable
	ErrCorruptCatalog    = catalog.ErrCorruptCatalog
	ErrRowNotFound       = heap.ErrRowNotFound
	ErrRowTooLarge       = heap.ErrRowTooLarge

	ErrClosed        = errors.New("engine: database is closed")
	ErrUnknownColumn = errors.New("engine: unknown column")
)
