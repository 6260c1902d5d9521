package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ramnasidharta/fizim/internal/ckan"
)

// FilterPackages keeps the package names matching pattern, in input order.
func FilterPackages(names []string, pattern *regexp.Regexp) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if pattern.MatchString(n) {
			out = append(out, n)
		}
	}
	return out
}

// Catalog is the part of the CKAN client the downloader needs.
type Catalog interface {
	PackageShow(ctx context.Context, id string) (ckan.Package, error)
}

// Downloader fetches every resource of a package to
// <DatasetsDir>/<package>/<parent directory in the URL>/<file>, which yields
// the <package>/DADOS/... layout of the portal.
type Downloader struct {
	DatasetsDir string
	Workers     int
	catalog     Catalog
	limiter     *rate.Limiter
	backoff     func() retry.Backoff
	http        *http.Client
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(time.Second))
}

// New returns a Downloader issuing at most rps portal requests per second
// (unlimited when rps <= 0).
func New(catalog Catalog, datasetsDir string, workers int, rps float64) *Downloader {
	if workers <= 0 {
		workers = 4
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Downloader{
		DatasetsDir: datasetsDir,
		Workers:     workers,
		catalog:     catalog,
		limiter:     rate.NewLimiter(limit, 1),
		backoff:     defaultBackoff,
		http: &http.Client{
			Timeout: 0, // large archives, no global timeout
		},
	}
}

type job struct {
	pkg string
	res ckan.Resource
}

// DownloadAll downloads all resources of pkgs and returns how many files were
// fetched (files already present with the same size are not counted).
func (d *Downloader) DownloadAll(ctx context.Context, pkgs []string) (int, error) {
	var jobs []job
	for _, p := range pkgs {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		pkg, err := d.catalog.PackageShow(ctx, p)
		if err != nil {
			return 0, fmt.Errorf("package %s: %w", p, err)
		}
		for _, r := range pkg.Resources {
			jobs = append(jobs, job{pkg: p, res: r})
		}
	}
	slog.Info("download stage started", "packages", len(pkgs), "resources", len(jobs), "workers", d.Workers)

	results := make([]bool, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Workers)
	for i, j := range jobs {
		g.Go(func() error {
			fetched, err := d.downloadOne(gctx, j.pkg, j.res)
			results[i] = fetched
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, fetched := range results {
		if fetched {
			n++
		}
	}
	slog.Info("download stage finished", "fetched", n, "resources", len(jobs))
	return n, nil
}

// Destination is where a resource of pkg is stored.
func (d *Downloader) Destination(pkg string, res ckan.Resource) (string, error) {
	u, err := url.Parse(res.URL)
	if err != nil {
		return "", err
	}
	dir, name := path.Split(strings.TrimRight(u.Path, "/"))
	subdir := path.Base(strings.TrimRight(dir, "/"))
	if name == "" || subdir == "" || subdir == "." || subdir == "/" {
		return "", fmt.Errorf("resource url %q has no directory/file part", res.URL)
	}
	return filepath.Join(d.DatasetsDir, pkg, subdir, name), nil
}

func (d *Downloader) downloadOne(ctx context.Context, pkg string, res ckan.Resource) (bool, error) {
	dst, err := d.Destination(pkg, res)
	if err != nil {
		return false, err
	}

	// same size means already downloaded
	if st, err := os.Stat(dst); err == nil {
		if res.Size > 0 && st.Size() == res.Size {
			slog.Debug("resource up to date", "file", dst)
			return false, nil
		}
		_ = os.Remove(dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}

	err = retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		return d.fetch(ctx, res.URL, dst)
	})
	if err != nil {
		return false, err
	}
	slog.Debug("resource downloaded", "file", dst)
	return true, nil
}

// fetch writes rawURL to dst through dst.part. Network failures and 5xx answers
// are retryable.
func (d *Downloader) fetch(ctx context.Context, rawURL, dst string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("download failed %s (%d): %s", path.Base(dst), resp.StatusCode, strings.TrimSpace(string(b)))
		if resp.StatusCode >= http.StatusInternalServerError {
			slog.Warn("download attempt failed", "file", path.Base(dst), "status", resp.StatusCode)
			return retry.RetryableError(err)
		}
		return err
	}

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return retry.RetryableError(err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
