package catalog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gridbase/gridbase/internal/record"
)

// Catalog pages: next(4) dataLen(2) payload. The encoded table list is
// split across the chain; Save grows or shrinks the chain as needed.
const chainHeader = 6

// Save serializes every table definition into the catalog page chain.
func (c *Catalog) Save() error {
	blob, err := c.encodeTables()
	if err != nil {
		return err
	}

	pageSize := c.store.PageSize()
	perPage := pageSize - chainHeader

	pid := c.store.CatalogRoot()
	if pid == 0 {
		return fmt.Errorf("%w: no catalog root", ErrCorruptCatalog)
	}

	for {
		n := len(blob)
		if n > perPage {
			n = perPage
		}
		chunk := blob[:n]
		blob = blob[n:]

		page, err := c.store.Read(pid)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint32(page)

		if len(blob) > 0 && next == 0 {
			if next, err = c.store.Allocate(); err != nil {
				return err
			}
			// the allocation may have changed this page (free-list reuse)
			if page, err = c.store.Read(pid); err != nil {
				return err
			}
		}
		if len(blob) == 0 && next != 0 {
			if err := c.freeChain(next); err != nil {
				return err
			}
			next = 0
		}

		binary.LittleEndian.PutUint32(page, next)
		binary.LittleEndian.PutUint16(page[4:], uint16(n))
		copy(page[chainHeader:], chunk)
		for i := chainHeader + n; i < pageSize; i++ {
			page[i] = 0
		}
		if err := c.store.Write(pid, page); err != nil {
			return err
		}

		if len(blob) == 0 {
			return nil
		}
		pid = next
	}
}

func (c *Catalog) readChain(root uint32) ([]byte, error) {
	var blob []byte
	visited := make(map[uint32]struct{})

	for pid := root; pid != 0; {
		if _, ok := visited[pid]; ok {
			return nil, fmt.Errorf("%w: page chain cycle at %d", ErrCorruptCatalog, pid)
		}
		if pid >= c.store.PageCount() {
			return nil, fmt.Errorf("%w: chain references page %d outside the file", ErrCorruptCatalog, pid)
		}
		visited[pid] = struct{}{}

		page, err := c.store.Read(pid)
		if err != nil {
			return nil, err
		}
		next := binary.LittleEndian.Uint32(page)
		n := int(binary.LittleEndian.Uint16(page[4:]))
		if chainHeader+n > len(page) {
			return nil, fmt.Errorf("%w: bad chunk length on page %d", ErrCorruptCatalog, pid)
		}
		blob = append(blob, page[chainHeader:chainHeader+n]...)
		pid = next
	}
	return blob, nil
}

func (c *Catalog) freeChain(root uint32) error {
	for pid := root; pid != 0; {
		page, err := c.store.Read(pid)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint32(page)
		if err := c.store.Free(pid); err != nil {
			return err
		}
		pid = next
	}
	return nil
}

// Blob format:
//
//	tableCount(2)
//	per table: name(varstr) firstPage(4) nextRowID(8) colCount(2)
//	per column: name(varstr) type(1) flags(1) [default value]
//
// flags: bit0 nullable, bit1 primary key, bit2 has default.
const (
	colFlagNullable   = 1 << 0
	colFlagPrimaryKey = 1 << 1
	colFlagHasDefault = 1 << 2
)

func (c *Catalog) encodeTables() ([]byte, error) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, uint16(len(c.order)))

	for _, name := range c.order {
		t := c.tables[name]
		var err error
		if out, err = appendVarstr(out, t.Name); err != nil {
			return nil, err
		}
		var b4 [4]byte
		binary.LittleEndian.PutUint32(b4[:], t.FirstPage)
		out = append(out, b4[:]...)
		var b8 [8]byte
		binary.LittleEndian.PutUint64(b8[:], t.NextRowID)
		out = append(out, b8[:]...)

		var b2 [2]byte
		binary.LittleEndian.PutUint16(b2[:], uint16(t.Schema.NumCols()))
		out = append(out, b2[:]...)

		for _, col := range t.Schema.Cols {
			if out, err = appendVarstr(out, col.Name); err != nil {
				return nil, err
			}
			out = append(out, byte(col.Type))
			var flags byte
			if col.Nullable {
				flags |= colFlagNullable
			}
			if col.PrimaryKey {
				flags |= colFlagPrimaryKey
			}
			if col.Default != nil {
				flags |= colFlagHasDefault
			}
			out = append(out, flags)
			if col.Default != nil {
				if out, err = record.AppendValue(out, *col.Default); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func decodeTables(blob []byte) (map[string]*Table, []string, error) {
	if len(blob) < 2 {
		return nil, nil, fmt.Errorf("%w: truncated table list", ErrCorruptCatalog)
	}
	count := int(binary.LittleEndian.Uint16(blob))
	i := 2

	tables := make(map[string]*Table, count)
	order := make([]string, 0, count)

	for n := 0; n < count; n++ {
		name, ni, err := readVarstr(blob, i)
		if err != nil {
			return nil, nil, err
		}
		i = ni
		if i+14 > len(blob) {
			return nil, nil, fmt.Errorf("%w: truncated table %q", ErrCorruptCatalog, name)
		}
		firstPage := binary.LittleEndian.Uint32(blob[i:])
		i += 4
		nextRowID := binary.LittleEndian.Uint64(blob[i:])
		i += 8
		colCount := int(binary.LittleEndian.Uint16(blob[i:]))
		i += 2

		cols := make([]record.Column, 0, colCount)
		for k := 0; k < colCount; k++ {
			colName, ci, err := readVarstr(blob, i)
			if err != nil {
				return nil, nil, err
			}
			i = ci
			if i+2 > len(blob) {
				return nil, nil, fmt.Errorf("%w: truncated column %q", ErrCorruptCatalog, colName)
			}
			typ := record.ColumnType(blob[i])
			flags := blob[i+1]
			i += 2

			col := record.Column{
				Name:       colName,
				Type:       typ,
				Nullable:   flags&colFlagNullable != 0,
				PrimaryKey: flags&colFlagPrimaryKey != 0,
			}
			if flags&colFlagHasDefault != 0 {
				v, vi, err := record.ReadValue(blob, i)
				if err != nil {
					return nil, nil, fmt.Errorf("%w: bad default for %q", ErrCorruptCatalog, colName)
				}
				i = vi
				col.Default = &v
			}
			cols = append(cols, col)
		}

		t := &Table{
			Name:      name,
			Schema:    record.Schema{Cols: cols},
			FirstPage: firstPage,
			NextRowID: nextRowID,
		}
		tables[name] = t
		order = append(order, name)
	}
	return tables, order, nil
}

func appendVarstr(out []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: identifier too long", ErrInvalidIdentifier)
	}
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(s)))
	out = append(out, l[:]...)
	return append(out, s...), nil
}

func readVarstr(blob []byte, i int) (string, int, error) {
	if i+2 > len(blob) {
		return "", 0, fmt.Errorf("%w: truncated string", ErrCorruptCatalog)
	}
	l := int(binary.LittleEndian.Uint16(blob[i:]))
	i += 2
	if i+l > len(blob) {
		return "", 0, fmt.Errorf("%w: truncated string", ErrCorruptCatalog)
	}
	return string(blob[i : i+l]), i + l, nil
}
