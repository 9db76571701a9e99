package engine

import (
	"github.com/gridbase/gridbase/internal/heap"
	"github.com/gridbase/gridbase/internal/record"
)

// The _meta table mirrors the key/value metadata the original editor kept
// per database (creation time, format version).

func metaColumns() []record.Column {
	return []record.Column{
		{Name: "key", Type: record.ColText, PrimaryKey: true},
		{Name: "value", Type: record.ColText, Nullable: true},
	}
}

// SetMeta upserts one metadata entry.
func (e *Engine) SetMeta(key, value string) error {
	return e.withWrite(func() error {
		return e.setMetaLocked(key, value)
	})
}

// setMetaLocked runs inside an active write capture.
func (e *Engine) setMetaLocked(key, value string) error {
	meta, err := e.cat.Lookup(MetaTable)
	if err != nil {
		return err
	}
	tbl := heap.NewTable(e.store, meta)

	rows, err := tbl.Scan()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.Values[0].Text == key {
			return tbl.Update(r.ID, []record.Value{record.Text(key), record.Text(value)})
		}
	}
	if _, err := tbl.Insert([]record.Value{record.Text(key), record.Text(value)}); err != nil {
		return err
	}
	return e.cat.Save()
}

// GetMeta reads one metadata entry; ok is false when the key is absent.
func (e *Engine) GetMeta(key string) (value string, ok bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return "", false, ErrClosed
	}

	meta, err := e.cat.Lookup(MetaTable)
	if err != nil {
		return "", false, err
	}
	rows, err := heap.NewTable(e.store, meta).Scan()
	if err != nil {
		return "", false, err
	}
	for _, r := range rows {
		if r.Values[0].Text == key {
			if r.Values[1].IsNull() {
				return "", true, nil
			}
			return r.Values[1].Text, true, nil
		}
	}
	return "", false, nil
}
