package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ramnasidharta/fizim/internal/ckan"
	"github.com/ramnasidharta/fizim/internal/config"
	"github.com/ramnasidharta/fizim/internal/db"
	"github.com/ramnasidharta/fizim/internal/downloader"
	"github.com/ramnasidharta/fizim/internal/loaders"
	"github.com/ramnasidharta/fizim/internal/normalize"
	"github.com/ramnasidharta/fizim/internal/schema"
	"github.com/ramnasidharta/fizim/internal/state"
)

// Normalizer names accepted by Normalize.
const (
	Balances  = "balances"
	Registers = "registers"
)

// DownloadResult is what the download stage fetched.
type DownloadResult struct {
	Packages []string
	Files    int
}

// Download lists the portal packages matching cfg.PackagePattern and fetches
// their resources into cfg.DatasetsDir.
func Download(ctx context.Context, cfg config.Config) (DownloadResult, error) {
	pattern, err := regexp.Compile(cfg.PackagePattern)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("PACKAGE_PATTERN: %w", err)
	}

	client := ckan.NewClient(cfg.CKANURL)
	names, err := client.PackageList(ctx)
	if err != nil {
		return DownloadResult{}, err
	}
	pkgs := downloader.FilterPackages(names, pattern)
	slog.Info("portal packages listed", "total", len(names), "matching", len(pkgs))

	n, err := downloader.New(client, cfg.DatasetsDir, cfg.DownloadWorkers, cfg.DownloadRate).DownloadAll(ctx, pkgs)
	if err != nil {
		return DownloadResult{Packages: pkgs}, err
	}
	return DownloadResult{Packages: pkgs, Files: n}, nil
}

// Normalize runs the named normalizers, both when which is empty.
func Normalize(ctx context.Context, cfg config.Config, which ...string) (map[string]normalize.Report, error) {
	if len(which) == 0 {
		which = []string{Balances, Registers}
	}

	out := make(map[string]normalize.Report, len(which))
	for _, w := range which {
		var (
			rep normalize.Report
			err error
		)
		switch w {
		case Balances:
			rep, err = normalize.NewBalances(normalize.Options{
				DatasetsDir: cfg.DatasetsDir,
				DestineDir:  cfg.DestineDir,
				Workers:     cfg.NormalizeWorkers,
			}).NormalizeAll(ctx)
		case Registers:
			rep, err = normalize.NewRegisters(normalize.Options{
				DatasetsDir: cfg.DatasetsDir,
				DestineDir:  cfg.RegistersDir,
				Workers:     cfg.NormalizeWorkers,
			}).NormalizeAll(ctx)
		default:
			return out, fmt.Errorf("unknown normalizer %q (want %s or %s)", w, Balances, Registers)
		}
		out[w] = rep
		if err != nil {
			return out, fmt.Errorf("normalize %s: %w", w, err)
		}
		slog.Info("normalizer finished", "normalizer", w, "normalized", rep.Normalized, "rows", rep.Rows, "failed", len(rep.Failed))
	}
	return out, nil
}

type loadTask struct {
	spec schema.TableSpec
	dir  string
	key  string
}

func loadTasks(cfg config.Config) []loadTask {
	return []loadTask{
		{spec: schema.Balance, dir: cfg.DestineDir, key: state.BalancesLoadedAt},
		{spec: schema.Company, dir: cfg.RegistersDir, key: state.RegistersLoadedAt},
	}
}

// TableLoad is the outcome of loading one table.
type TableLoad struct {
	loaders.LoadResult
	// PreviousLoad is the RFC 3339 time of the prior successful load, empty
	// when the table was never loaded.
	PreviousLoad string
}

// Load copies the normalized files into the balance and company tables and
// records the load time of every table that received files.
func Load(ctx context.Context, cfg config.Config) ([]TableLoad, error) {
	pool, err := db.Open(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPass,
		Name:     cfg.DBName,
	})
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	slog.Info("database connected", "host", cfg.DBHost, "port", cfg.DBPort, "db_name", cfg.DBName)

	return loadAll(ctx, pool, loadTasks(cfg), cfg.LoadWorkers, time.Now)
}

func loadAll(ctx context.Context, conn db.DB, tasks []loadTask, workers int, now func() time.Time) ([]TableLoad, error) {
	meta := state.NewMetaStore(conn)
	if err := meta.Ensure(ctx); err != nil {
		return nil, err
	}

	results := make([]TableLoad, 0, len(tasks))
	for _, t := range tasks {
		prev, _, err := meta.Get(ctx, t.key)
		if err != nil {
			return results, fmt.Errorf("read %s: %w", t.key, err)
		}
		res, err := loaders.LoadDir(ctx, conn, t.spec, t.dir, workers)
		results = append(results, TableLoad{LoadResult: res, PreviousLoad: prev})
		if err != nil {
			return results, err
		}
		if res.Files == 0 {
			continue
		}
		if err := meta.Set(ctx, t.key, now().UTC().Format(time.RFC3339)); err != nil {
			return results, err
		}
	}
	return results, nil
}
