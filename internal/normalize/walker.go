package normalize

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FileError records a file that was skipped.
type FileError struct {
	File string
	Err  error
}

// Report summarizes a normalization pass.
type Report struct {
	Normalized int
	Rows       int64
	Failed     []FileError
}

func (r *Report) Add(o Report) {
	r.Normalized += o.Normalized
	r.Rows += o.Rows
	r.Failed = append(r.Failed, o.Failed...)
}

// Options configures both normalizers.
type Options struct {
	DatasetsDir string
	DestineDir  string
	// Workers bounds how many files of one archive or dataset are processed at
	// once. Values below 1 mean 1.
	Workers int
	Logger  *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// walkFiles runs fn on each file. A failing file is logged and recorded;
// the remaining files still run. Only cancellation of ctx stops the walk.
func walkFiles(ctx context.Context, o Options, files []string, fn func(path string) (int, error)) (Report, error) {
	log := o.logger()

	var (
		mu  sync.Mutex
		rep Report
		g   errgroup.Group
	)
	g.SetLimit(max(o.Workers, 1))

	for _, fp := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rows, err := fn(fp)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("failed to normalize file", "file", fp, "error", err)
				rep.Failed = append(rep.Failed, FileError{File: fp, Err: err})
				return nil
			}
			log.Debug("file normalized", "file", filepath.Base(fp), "rows", rows)
			rep.Normalized++
			rep.Rows += int64(rows)
			return nil
		})
	}
	_ = g.Wait()
	return rep, ctx.Err()
}
