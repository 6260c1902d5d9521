package loaders

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ramnasidharta/fizim/internal/db"
	"github.com/ramnasidharta/fizim/internal/scan"
	"github.com/ramnasidharta/fizim/internal/schema"
)

type CopyResult struct {
	Table string
	File  string
	Rows  int64
}

// LoadResult summarizes LoadDir.
type LoadResult struct {
	Table  string
	Files  int
	Rows   int64
	Failed []string
}

func EnsureTable(ctx context.Context, conn db.DB, spec schema.TableSpec, drop bool) error {
	if drop {
		if _, err := conn.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s";`, spec.Name)); err != nil {
			return err
		}
	}
	if _, err := conn.Exec(ctx, schema.CreateTableSQL(spec)); err != nil {
		return err
	}
	return nil
}

// CopyFile streams one normalized ';' separated UTF-8 file into spec's table
// via CopyFrom. The header line must list exactly spec's columns. Empty
// fields are loaded as NULL.
func CopyFile(ctx context.Context, conn db.DB, spec schema.TableSpec, csvPath string) (CopyResult, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return CopyResult{}, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return CopyResult{}, fmt.Errorf("read header of %s: %w", csvPath, err)
	}
	if err := checkHeader(spec, header); err != nil {
		return CopyResult{}, fmt.Errorf("%s: %w", csvPath, err)
	}

	src := &csvCopySource{
		r:    reader,
		cols: len(spec.Columns),
	}
	rows, err := conn.CopyFrom(ctx, pgx.Identifier{spec.Name}, spec.Columns, src)
	if err != nil {
		return CopyResult{}, fmt.Errorf("copy %s (%s): %w", spec.Name, csvPath, err)
	}
	return CopyResult{Table: spec.Name, File: csvPath, Rows: rows}, nil
}

func checkHeader(spec schema.TableSpec, header []string) error {
	if len(header) != len(spec.Columns) {
		return fmt.Errorf("header has %d columns, table %s has %d", len(header), spec.Name, len(spec.Columns))
	}
	for i, c := range spec.Columns {
		if header[i] != c {
			return fmt.Errorf("header column %d is %q, want %q", i, header[i], c)
		}
	}
	return nil
}

// LoadDir recreates spec's table and copies every .csv file of dir into it.
// A file that fails is logged and counted; the others are still loaded.
func LoadDir(ctx context.Context, conn db.DB, spec schema.TableSpec, dir string, workers int) (LoadResult, error) {
	res := LoadResult{Table: spec.Name}

	files, err := scan.Files(dir, scan.HasSuffix(".csv"))
	if err != nil {
		return res, err
	}
	if len(files) == 0 {
		slog.Warn("no files found for table", "table", spec.Name, "dir", dir)
		return res, nil
	}
	if err := EnsureTable(ctx, conn, spec, true); err != nil {
		return res, fmt.Errorf("ensure table %s: %w", spec.Name, err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(max(workers, 1))
	for _, fp := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := CopyFile(ctx, conn, spec, fp)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Error("failed to load file", "table", spec.Name, "file", filepath.Base(fp), "error", err)
				res.Failed = append(res.Failed, fp)
				return nil
			}
			res.Files++
			res.Rows += r.Rows
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("table loaded", "table", spec.Name, "files", res.Files, "rows", res.Rows, "failed", len(res.Failed))
	return res, ctx.Err()
}

type csvCopySource struct {
	r    *csv.Reader
	cols int
	row  []string
	err  error
}

func (s *csvCopySource) Next() bool {
	rec, err := s.r.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		s.err = err
		return false
	}

	// Pad short rows with "", truncate long ones.
	if len(rec) < s.cols {
		padded := make([]string, s.cols)
		copy(padded, rec)
		rec = padded
	} else if len(rec) > s.cols {
		rec = rec[:s.cols]
	}

	s.row = rec
	return true
}

func (s *csvCopySource) Values() ([]any, error) {
	out := make([]any, s.cols)
	for i := 0; i < s.cols; i++ {
		v := strings.TrimSpace(s.row[i])
		if v == "" {
			out[i] = nil
			continue
		}
		out[i] = v
	}
	return out, nil
}

func (s *csvCopySource) Err() error { return s.err }
