package record

// ColumnType is the declared type tag of a column.
type ColumnType uint8

const (
	ColInteger ColumnType = iota
	ColReal
	ColText
	ColBlob
	ColNumeric
)

func (t ColumnType) String() string {
	switch t {
	case ColInteger:
		return "INTEGER"
	case ColReal:
		return "REAL"
	case ColText:
		return "TEXT"
	case ColBlob:
		return "BLOB"
	case ColNumeric:
		return "NUMERIC"
	}
	return "UNKNOWN"
}

type Column struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	Default    *Value // nil means no declared default
	PrimaryKey bool
}

// DefaultValue returns the value a row predating this column reads back as.
func (c Column) DefaultValue() Value {
	if c.Default != nil {
		return *c.Default
	}
	return Null()
}

type Schema struct {
	Cols []Column
}

func (s Schema) NumCols() int { return len(s.Cols) }

// ColIndex returns the position of the named column, or -1.
func (s Schema) ColIndex(name string) int {
	for i, c := range s.Cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// PrimaryKeyIndex returns the position of the column flagged as primary key,
// or -1 when the table relies on the implicit row id.
func (s Schema) PrimaryKeyIndex() int {
	for i, c := range s.Cols {
		if c.PrimaryKey {
			return i
		}
	}
	return -1
}
