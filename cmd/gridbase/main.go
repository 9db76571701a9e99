package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/engine"
	"github.com/gridbase/gridbase/internal/record"
)

var (
	cfgFile string
	cfg     *internal.Config
)

func main() {
	root := &cobra.Command{
		Use:           "gridbase",
		Short:         "Single-file embedded database engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = internal.LoadConfig(cfgFile); err != nil {
				return err
			}
			lvl, err := logrus.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			logrus.SetLevel(lvl)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config")

	root.AddCommand(
		createCmd(),
		tablesCmd(),
		describeCmd(),
		scanCmd(),
		insertCmd(),
		deleteCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func engineOptions() engine.Options {
	return engine.Options{
		PageSize:        cfg.Storage.PageSize,
		SyncWrites:      cfg.Storage.SyncWrites,
		CheckpointBytes: cfg.Storage.CheckpointBytes,
	}
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <db-file>",
		Short: "Create a new database file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Create(args[0], engineOptions())
			if err != nil {
				return err
			}
			return e.Close()
		},
	}
}

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables <db-file>",
		Short: "List tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(args[0], engineOptions())
			if err != nil {
				return err
			}
			defer e.Close()

			names, err := e.ListTables()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <db-file> <table>",
		Short: "Show a table's columns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(args[0], engineOptions())
			if err != nil {
				return err
			}
			defer e.Close()

			cols, err := e.Describe(args[1])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tNULLABLE\tDEFAULT\tPK")
			for _, c := range cols {
				def := ""
				if c.Default != nil {
					def = c.Default.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%v\n", c.Name, c.Type, c.Nullable, def, c.PrimaryKey)
			}
			return w.Flush()
		},
	}
}

func scanCmd() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "scan <db-file> <table>",
		Short: "Print rows in ascending row-id order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(args[0], engineOptions())
			if err != nil {
				return err
			}
			defer e.Close()

			cols, err := e.Describe(args[1])
			if err != nil {
				return err
			}
			res, err := e.PagedScan(args[1], offset, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			names := make([]string, len(cols))
			for i, c := range cols {
				names[i] = c.Name
			}
			fmt.Fprintf(w, "rowid\t%s\n", strings.Join(names, "\t"))
			for _, row := range res.Rows {
				cells := make([]string, len(row.Values))
				for i, v := range row.Values {
					cells[i] = v.String()
				}
				fmt.Fprintf(w, "%d\t%s\n", row.ID, strings.Join(cells, "\t"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d of %d rows\n", len(res.Rows), res.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows to print (0 = all)")
	return cmd
}

func insertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <db-file> <table> [col=value ...]",
		Short: "Insert one row; unset columns take their default",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(args[0], engineOptions())
			if err != nil {
				return err
			}
			defer e.Close()

			table := args[1]
			cols, err := e.Describe(table)
			if err != nil {
				return err
			}

			values := make([]record.Value, len(cols))
			for i, c := range cols {
				values[i] = c.DefaultValue()
			}
			for _, arg := range args[2:] {
				name, raw, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected col=value, got %q", arg)
				}
				idx := -1
				for i, c := range cols {
					if c.Name == name {
						idx = i
						break
					}
				}
				if idx < 0 {
					return fmt.Errorf("unknown column %q", name)
				}
				v, err := parseValue(cols[idx].Type, raw)
				if err != nil {
					return err
				}
				values[idx] = v
			}

			id, err := e.InsertRow(table, values)
			if err != nil {
				return err
			}
			fmt.Printf("row %d\n", id)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <db-file> <table> <rowid>",
		Short: "Delete one row by id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad row id %q", args[2])
			}

			e, err := engine.Open(args[0], engineOptions())
			if err != nil {
				return err
			}
			defer e.Close()

			return e.DeleteRow(args[1], id)
		},
	}
}

func parseValue(t record.ColumnType, raw string) (record.Value, error) {
	if raw == "null" {
		return record.Null(), nil
	}
	switch t {
	case record.ColInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return record.Value{}, fmt.Errorf("bad integer %q", raw)
		}
		return record.Int(n), nil
	case record.ColReal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return record.Value{}, fmt.Errorf("bad real %q", raw)
		}
		return record.Real(f), nil
	case record.ColText:
		return record.Text(raw), nil
	case record.ColBlob:
		b, err := hex.DecodeString(raw)
		if err != nil {
			return record.Value{}, fmt.Errorf("blob values are hex encoded: %q", raw)
		}
		return record.Blob(b), nil
	case record.ColNumeric:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return record.Value{}, fmt.Errorf("bad numeric %q", raw)
		}
		return record.Numeric(d), nil
	}
	return record.Value{}, fmt.Errorf("unsupported column type %v", t)
}
