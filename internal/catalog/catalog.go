package catalog

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/gridbase/gridbase/internal/pagestore"
	"github.com/gridbase/gridbase/internal/record"
)

var (
	ErrInvalidIdentifier   = errors.New("catalog: invalid identifier")
	ErrDuplicateTable      = errors.New("catalog: duplicate table")
	ErrDuplicateColumn     = errors.New("catalog: duplicate column")
	ErrUnknownTable        = errors.New("catalog: unknown table")
	ErrCorruptCatalog      = errors.New("catalog: corrupt catalog")
	ErrMultiplePrimaryKeys = errors.New("catalog: more than one primary key column")
	ErrInvalidColumn       = errors.New("catalog: invalid column definition")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table is a live table definition. NextRowID is persisted with the
// definition so restarts never hand out an id twice.
type Table struct {
	Name      string
	Schema    record.Schema
	FirstPage uint32
	NextRowID uint64
}

// Catalog holds every table definition, mirrored between memory and a chain
// of catalog pages rooted in the file header. All page writes go through the
// engine's WAL capture; after a failed operation the engine reloads the
// catalog from the rolled-back pages.
type Catalog struct {
	store  *pagestore.Store
	tables map[string]*Table
	order  []string
}

func New(store *pagestore.Store) *Catalog {
	return &Catalog{
		store:  store,
		tables: make(map[string]*Table),
	}
}

// Init allocates the catalog root page for a freshly created database and
// persists an empty table list.
func (c *Catalog) Init() error {
	root, err := c.store.Allocate()
	if err != nil {
		return err
	}
	if err := c.store.SetCatalogRoot(root); err != nil {
		return err
	}
	return c.Save()
}

// Load rebuilds the in-memory catalog from the catalog page chain.
func (c *Catalog) Load() error {
	root := c.store.CatalogRoot()
	if root == 0 {
		return fmt.Errorf("%w: no catalog root", ErrCorruptCatalog)
	}
	blob, err := c.readChain(root)
	if err != nil {
		return err
	}
	tables, order, err := decodeTables(blob)
	if err != nil {
		return err
	}
	for _, name := range order {
		t := tables[name]
		if t.FirstPage == 0 || t.FirstPage >= c.store.PageCount() {
			return fmt.Errorf("%w: table %q references page %d outside the file",
				ErrCorruptCatalog, name, t.FirstPage)
		}
	}
	c.tables = tables
	c.order = order
	return nil
}

// DefineTable validates the definition, allocates the table's first data
// page and persists the new catalog state.
func (c *Catalog) DefineTable(name string, cols []record.Column) (*Table, error) {
	if !identRe.MatchString(name) {
		return nil, fmt.Errorf("%w: table name %q", ErrInvalidIdentifier, name)
	}
	if _, ok := c.tables[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateTable, name)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: table %q has no columns", ErrInvalidColumn, name)
	}

	seen := make(map[string]struct{}, len(cols))
	pk := 0
	for _, col := range cols {
		if err := checkColumn(col); err != nil {
			return nil, err
		}
		if _, dup := seen[col.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, col.Name)
		}
		seen[col.Name] = struct{}{}
		if col.PrimaryKey {
			pk++
		}
	}
	if pk > 1 {
		return nil, fmt.Errorf("%w: table %q", ErrMultiplePrimaryKeys, name)
	}

	first, err := c.store.Allocate()
	if err != nil {
		return nil, err
	}

	t := &Table{
		Name:      name,
		Schema:    record.Schema{Cols: append([]record.Column(nil), cols...)},
		FirstPage: first,
		NextRowID: 1,
	}
	c.tables[name] = t
	c.order = append(c.order, name)
	if err := c.Save(); err != nil {
		return nil, err
	}
	return t, nil
}

// AddColumn appends a column to an existing table. Rows already on disk are
// not rewritten; reads synthesize the new column's default.
func (c *Catalog) AddColumn(table string, col record.Column) error {
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if err := checkColumn(col); err != nil {
		return err
	}
	if t.Schema.ColIndex(col.Name) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, col.Name)
	}
	if col.PrimaryKey && t.Schema.PrimaryKeyIndex() >= 0 {
		return fmt.Errorf("%w: table %q", ErrMultiplePrimaryKeys, table)
	}
	if !col.Nullable && col.Default == nil {
		return fmt.Errorf("%w: added column %q needs a default or must be nullable",
			ErrInvalidColumn, col.Name)
	}

	t.Schema.Cols = append(t.Schema.Cols, col)
	return c.Save()
}

// Lookup returns the live definition of the named table.
func (c *Catalog) Lookup(name string) (*Table, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// List returns table names in definition order.
func (c *Catalog) List() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func checkColumn(col record.Column) error {
	if !identRe.MatchString(col.Name) {
		return fmt.Errorf("%w: column name %q", ErrInvalidIdentifier, col.Name)
	}
	if col.Default != nil && !col.Default.IsNull() {
		if err := col.Default.CheckColumn(record.Column{
			Name: col.Name, Type: col.Type, Nullable: true,
		}); err != nil {
			return fmt.Errorf("%w: default for %q has the wrong type", ErrInvalidColumn, col.Name)
		}
	}
	return nil
}
