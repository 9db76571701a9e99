package heap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/pagestore"
	"github.com/gridbase/gridbase/internal/record"
)

var (
	ErrRowNotFound = errors.New("heap: row not found")
	ErrRowTooLarge = errors.New("heap: row too large for one page")
)

// Row is a decoded tuple with its row id.
type Row struct {
	ID     uint64
	Values []record.Value
}

// Table provides slotted-page row storage for one table. Pages belong to the
// table's chain starting at Meta.FirstPage; all reads and writes go through
// the page store so the engine's WAL capture sees every mutation.
type Table struct {
	Store *pagestore.Store
	Meta  *catalog.Table
}

func NewTable(store *pagestore.Store, meta *catalog.Table) *Table {
	return &Table{Store: store, Meta: meta}
}

// Insert assigns the next row id, appends the encoded tuple to the page
// chain and returns the id. The caller persists Meta (NextRowID) in the
// same transaction.
func (t *Table) Insert(values []record.Value) (uint64, error) {
	id := t.Meta.NextRowID
	tup, err := record.EncodeRow(t.Meta.Schema, id, values)
	if err != nil {
		return 0, err
	}
	if len(tup) > maxTupleLen(t.Store.PageSize()) {
		return 0, fmt.Errorf("%w: %d bytes", ErrRowTooLarge, len(tup))
	}
	if err := t.placeTuple(tup); err != nil {
		return 0, err
	}
	t.Meta.NextRowID++
	return id, nil
}

// Update re-encodes the row. The tuple is overwritten in place when the new
// encoding fits the existing slot, otherwise the old slot is tombstoned and
// the tuple relocated; the engine runs both steps under one WAL transaction.
func (t *Table) Update(rowID uint64, values []record.Value) error {
	tup, err := record.EncodeRow(t.Meta.Schema, rowID, values)
	if err != nil {
		return err
	}
	if len(tup) > maxTupleLen(t.Store.PageSize()) {
		return fmt.Errorf("%w: %d bytes", ErrRowTooLarge, len(tup))
	}

	loc, err := t.find(rowID)
	if err != nil {
		return err
	}

	buf, err := t.Store.Read(loc.pageID)
	if err != nil {
		return err
	}
	p := wrapPage(buf)

	if err := p.updateTupleInPlace(loc.slot, tup); err == nil {
		return t.Store.Write(loc.pageID, p.Buf)
	} else if !errors.Is(err, ErrNoSpace) {
		return err
	}

	if err := p.deleteTuple(loc.slot); err != nil {
		return err
	}
	if err := t.Store.Write(loc.pageID, p.Buf); err != nil {
		return err
	}
	return t.placeTuple(tup)
}

// Delete tombstones the row's slot. The row id is never reused.
func (t *Table) Delete(rowID uint64) error {
	loc, err := t.find(rowID)
	if err != nil {
		return err
	}
	buf, err := t.Store.Read(loc.pageID)
	if err != nil {
		return err
	}
	p := wrapPage(buf)
	if err := p.deleteTuple(loc.slot); err != nil {
		return err
	}
	return t.Store.Write(loc.pageID, p.Buf)
}

// Scan returns every live row in ascending row-id order.
func (t *Table) Scan() ([]Row, error) {
	var rows []Row
	err := t.walk(func(_ uint32, _ int, tup []byte) (bool, error) {
		id, values, err := record.DecodeRow(t.Meta.Schema, tup)
		if err != nil {
			return false, err
		}
		rows = append(rows, Row{ID: id, Values: values})
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// Count returns the number of live rows.
func (t *Table) Count() (int, error) {
	n := 0
	err := t.walk(func(_ uint32, _ int, _ []byte) (bool, error) {
		n++
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Get returns a single live row by id.
func (t *Table) Get(rowID uint64) (Row, error) {
	loc, err := t.find(rowID)
	if err != nil {
		return Row{}, err
	}
	id, values, err := record.DecodeRow(t.Meta.Schema, loc.tup)
	if err != nil {
		return Row{}, err
	}
	return Row{ID: id, Values: values}, nil
}

type rowLoc struct {
	pageID uint32
	slot   int
	tup    []byte
}

func (t *Table) find(rowID uint64) (rowLoc, error) {
	var found *rowLoc
	err := t.walk(func(pid uint32, slot int, tup []byte) (bool, error) {
		id, err := record.RowID(tup)
		if err != nil {
			return false, err
		}
		if id == rowID {
			cp := make([]byte, len(tup))
			copy(cp, tup)
			found = &rowLoc{pageID: pid, slot: slot, tup: cp}
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return rowLoc{}, err
	}
	if found == nil {
		return rowLoc{}, fmt.Errorf("%w: id %d", ErrRowNotFound, rowID)
	}
	return *found, nil
}

// walk visits every live tuple in chain order. fn returning true stops the
// walk early.
func (t *Table) walk(fn func(pid uint32, slot int, tup []byte) (bool, error)) error {
	for pid := t.Meta.FirstPage; pid != 0; {
		buf, err := t.Store.Read(pid)
		if err != nil {
			return err
		}
		p := wrapPage(buf)
		if p.isUninitialized() {
			return nil
		}

		for i := 0; i < p.numSlots(); i++ {
			live, err := p.isLiveSlot(i)
			if err != nil {
				return err
			}
			if !live {
				continue
			}
			tup, err := p.readTuple(i)
			if err != nil {
				return err
			}
			stop, err := fn(pid, i, tup)
			if err != nil || stop {
				return err
			}
		}
		pid = p.nextPage()
	}
	return nil
}

// placeTuple finds a page with room in the chain, extending it when every
// page is full. The first data page is initialized lazily.
func (t *Table) placeTuple(tup []byte) error {
	pid := t.Meta.FirstPage
	for {
		buf, err := t.Store.Read(pid)
		if err != nil {
			return err
		}
		p := wrapPage(buf)
		if p.isUninitialized() {
			p.init(pid)
		}

		if _, err := p.insertTuple(tup); err == nil {
			return t.Store.Write(pid, p.Buf)
		} else if !errors.Is(err, ErrNoSpace) {
			return err
		}

		next := p.nextPage()
		if next == 0 {
			if next, err = t.Store.Allocate(); err != nil {
				return err
			}
			p.setNextPage(next)
			if err := t.Store.Write(pid, p.Buf); err != nil {
				return err
			}
		}
		pid = next
	}
}
