package engine

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/gridbase/gridbase/internal/heap"
	"github.com/gridbase/gridbase/internal/record"
)

// Row is one scanned row: its id plus values aligned to the table's current
// column list.
type Row struct {
	ID     uint64
	Values []record.Value
}

// ScanResult is a stable pagination window over the ascending-row-id order.
type ScanResult struct {
	Rows []Row
	// Total is the live row count of the whole table at scan time, not the
	// window size.
	Total int
}

// CreateTable defines a new table. At most one column may carry the
// primary-key flag; without one the implicit row id is the key. Names
// beginning with an underscore are reserved for tables like _meta.
func (e *Engine) CreateTable(name string, cols []record.Column) error {
	if strings.HasPrefix(name, "_") {
		return errors.Wrapf(ErrInvalidIdentifier, "create table %s: leading underscore is reserved", name)
	}
	return e.withWrite(func() error {
		_, err := e.cat.DefineTable(name, cols)
		return errors.Wrapf(err, "create table %s", name)
	})
}

// AddColumn appends a column. Existing rows are not rewritten; they read
// back the column's default (or NULL).
func (e *Engine) AddColumn(table string, col record.Column) error {
	return e.withWrite(func() error {
		return errors.Wrapf(e.cat.AddColumn(table, col), "alter table %s", table)
	})
}

// InsertRow appends a row and returns its id. Ids are monotonic per table
// and survive restarts.
func (e *Engine) InsertRow(table string, values []record.Value) (uint64, error) {
	var id uint64
	err := e.withWrite(func() error {
		meta, err := e.cat.Lookup(table)
		if err != nil {
			return err
		}
		tbl := heap.NewTable(e.store, meta)
		if id, err = tbl.Insert(values); err != nil {
			return err
		}
		// NextRowID moved; persist it with the definition
		return e.cat.Save()
	})
	if err != nil {
		return 0, errors.Wrapf(err, "insert into %s", table)
	}
	return id, nil
}

// UpdateRow overwrites the named columns of one row, leaving the rest as
// stored.
func (e *Engine) UpdateRow(table string, rowID uint64, changes map[string]record.Value) error {
	err := e.withWrite(func() error {
		meta, err := e.cat.Lookup(table)
		if err != nil {
			return err
		}
		tbl := heap.NewTable(e.store, meta)
		row, err := tbl.Get(rowID)
		if err != nil {
			return err
		}
		for name, v := range changes {
			idx := meta.Schema.ColIndex(name)
			if idx < 0 {
				return errors.Wrapf(ErrUnknownColumn, "%s.%s", table, name)
			}
			row.Values[idx] = v
		}
		return tbl.Update(rowID, row.Values)
	})
	return errors.Wrapf(err, "update %s row %d", table, rowID)
}

// DeleteRow tombstones one row. Its id is never handed out again.
func (e *Engine) DeleteRow(table string, rowID uint64) error {
	err := e.withWrite(func() error {
		meta, err := e.cat.Lookup(table)
		if err != nil {
			return err
		}
		return heap.NewTable(e.store, meta).Delete(rowID)
	})
	return errors.Wrapf(err, "delete from %s row %d", table, rowID)
}

// PagedScan returns up to limit live rows starting offset rows into the
// ascending-row-id order, plus the table's total live count. limit <= 0
// means no limit. The snapshot is taken under the shared lock, so no
// concurrent writer is ever partially visible.
func (e *Engine) PagedScan(table string, offset, limit int) (*ScanResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	meta, err := e.cat.Lookup(table)
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", table)
	}
	rows, err := heap.NewTable(e.store, meta).Scan()
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", table)
	}

	res := &ScanResult{Total: len(rows)}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return res, nil
	}
	window := rows[offset:]
	if limit > 0 && limit < len(window) {
		window = window[:limit]
	}
	res.Rows = make([]Row, len(window))
	for i, r := range window {
		res.Rows[i] = Row{ID: r.ID, Values: r.Values}
	}
	return res, nil
}

// ListTables returns user tables in definition order, hiding reserved
// tables like _meta.
func (e *Engine) ListTables() ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	var out []string
	for _, name := range e.cat.List() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// Describe returns a copy of the table's column definitions.
func (e *Engine) Describe(table string) ([]record.Column, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	meta, err := e.cat.Lookup(table)
	if err != nil {
		return nil, err
	}
	return append([]record.Column(nil), meta.Schema.Cols...), nil
}

// RowCount returns the live row count.
func (e *Engine) RowCount(table string) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, ErrClosed
	}

	meta, err := e.cat.Lookup(table)
	if err != nil {
		return 0, err
	}
	return heap.NewTable(e.store, meta).Count()
}
