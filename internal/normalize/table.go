package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var (
	ErrEmptyFile        = errors.New("file has no header")
	ErrMissingColumn    = errors.New("missing column")
	ErrUnexpectedColumn = errors.New("unexpected column")
)

// Table is a raw extract held as an all-string data frame. Columns are
// addressed by name, since some only exist in some files.
type Table struct {
	df dataframe.DataFrame
}

// ReadTable parses a ';' separated latin-1 file, first line as header.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTable(transform.NewReader(f, charmap.ISO8859_1.NewDecoder()))
}

func parseTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}
	seen := make(map[string]bool, len(records[0]))
	for _, c := range records[0] {
		if seen[c] {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}

	df, err := loadFrame(records)
	if err != nil {
		return nil, err
	}
	return &Table{df: df}, nil
}

// loadFrame keeps every field as the exact string read: no type detection
// and no NA markers.
func loadFrame(records [][]string) (dataframe.DataFrame, error) {
	var df dataframe.DataFrame
	if len(records) == 1 {
		// LoadRecords rejects a header without rows
		cols := make([]series.Series, len(records[0]))
		for i, c := range records[0] {
			cols[i] = series.New([]string{}, series.String, c)
		}
		df = dataframe.New(cols...)
	} else {
		df = dataframe.LoadRecords(records,
			dataframe.DetectTypes(false),
			dataframe.DefaultType(series.String),
			dataframe.NaNValues(nil),
		)
	}
	return df, df.Err
}

func (t *Table) Columns() []string { return t.df.Names() }

func (t *Table) Nrow() int { return t.df.Nrow() }

func (t *Table) Has(column string) bool {
	return slices.Contains(t.df.Names(), column)
}

// Col returns the values of column, nil when the column is absent.
func (t *Table) Col(column string) []string {
	if !t.Has(column) {
		return nil
	}
	return t.df.Col(column).Records()
}

// checkColumns fails unless every required column is present and every
// column present is either required or optional.
func (t *Table) checkColumns(required, optional []string) error {
	for _, c := range required {
		if !t.Has(c) {
			return fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	for _, c := range t.Columns() {
		if !slices.Contains(required, c) && !slices.Contains(optional, c) {
			return fmt.Errorf("%w: %s", ErrUnexpectedColumn, c)
		}
	}
	return nil
}

// column reads a column of a derived frame, surfacing any error the frame
// carries.
func column(df dataframe.DataFrame, name string) ([]string, error) {
	s := df.Col(name)
	if s.Err != nil {
		return nil, fmt.Errorf("column %s: %w", name, s.Err)
	}
	return s.Records(), nil
}

// present keeps the names of cols that exist in df.
func present(df dataframe.DataFrame, cols []string) []string {
	names := df.Names()
	var out []string
	for _, c := range cols {
		if slices.Contains(names, c) {
			out = append(out, c)
		}
	}
	return out
}

// writeFrame writes df (header first) as ';' separated UTF-8. The file only
// appears under path once fully written.
func writeFrame(path string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return df.Err
	}
	return writeRecords(path, df.Records())
}

func writeRecords(path string, records [][]string) error {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.WriteAll(records); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
