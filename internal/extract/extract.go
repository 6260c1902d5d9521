package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// TargetDir is where Expand puts the contents of archivePath: the same path
// without its extension.
func TargetDir(archivePath string) string {
	return strings.TrimSuffix(archivePath, filepath.Ext(archivePath))
}

// Expand extracts every entry of the zip at archivePath into TargetDir(archivePath).
// Existing files are overwritten, so running it twice gives the same tree.
func Expand(archivePath string) (string, error) {
	destDir := TargetDir(archivePath)
	slog.Debug("expanding archive", "archive", filepath.Base(archivePath), "dest_dir", destDir)

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	for _, f := range r.File {
		if err := extractOne(f, destDir); err != nil {
			return "", fmt.Errorf("extract %s from %s: %w", f.Name, archivePath, err)
		}
	}
	return destDir, nil
}

func extractOne(f *zip.File, destDir string) error {
	fp := filepath.Join(destDir, f.Name)
	if fp != destDir && !strings.HasPrefix(fp, destDir+string(os.PathSeparator)) {
		return fmt.Errorf("entry escapes destination directory")
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(fp, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(fp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
