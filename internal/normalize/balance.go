package normalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/ramnasidharta/fizim/internal/extract"
	"github.com/ramnasidharta/fizim/internal/scan"
	"github.com/ramnasidharta/fizim/internal/schema"
)

// BalanceDatasets are the annual (DFP) and quarterly (ITR) statement datasets.
var BalanceDatasets = []string{"cia_aberta-doc-dfp", "cia_aberta-doc-itr"}

const (
	archiveExt = ".zip"
	dataExt    = ".csv"

	scaleColumn     = "ESCALA_MOEDA"
	valueColumn     = "VL_CONTA"
	statementColumn = "COLUNA_DF"
	unitScale       = "UNIDADE"
)

// Raw columns feeding schema.Balance, position by position.
var balanceSources = []string{
	"CNPJ_CIA", "DENOM_CIA", "CD_CVM", "GRUPO_DFP", "DT_FIM_EXERC",
	statementColumn, "DS_CONTA", valueColumn,
}

var (
	balanceDropped  = []string{"DT_REFER", "VERSAO", "MOEDA", scaleColumn, "ORDEM_EXERC", "CD_CONTA", "ST_CONTA_FIXA"}
	balanceOptional = []string{"DT_INI_EXERC", statementColumn}
	balanceRequired = requiredColumns(balanceSources, balanceDropped, balanceOptional)
	balanceIgnored  = append(append([]string{}, balanceDropped...), "DT_INI_EXERC")
)

// Balances normalizes the financial statement datasets.
//
//	<DatasetsDir>/<dataset>/DADOS/<year>.zip   ->  <DestineDir>/<statement file>.csv
type Balances struct {
	opts Options
}

func NewBalances(opts Options) *Balances {
	return &Balances{opts: opts}
}

// NormalizeAll normalizes every balance dataset into DestineDir.
func (b *Balances) NormalizeAll(ctx context.Context) (Report, error) {
	log := b.opts.logger()
	log.Debug("creating output directory", "dir", b.opts.DestineDir)
	if err := os.MkdirAll(b.opts.DestineDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create output dir: %w", err)
	}

	var rep Report
	for _, name := range BalanceDatasets {
		r, err := b.NormalizeDataset(ctx, filepath.Join(b.opts.DatasetsDir, name))
		rep.Add(r)
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// NormalizeDataset normalizes every archive directly under datasetPath/DADOS.
func (b *Balances) NormalizeDataset(ctx context.Context, datasetPath string) (Report, error) {
	log := b.opts.logger().With("dataset", filepath.Base(datasetPath))
	log.Info("dataset normalization started")

	archives, err := scan.Files(scan.DataDir(datasetPath), scan.HasSuffix(archiveExt))
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for _, a := range archives {
		r, err := b.NormalizeArchive(ctx, a)
		rep.Add(r)
		if err != nil {
			return rep, err
		}
	}
	log.Info("dataset normalization finished", "normalized", rep.Normalized, "failed", len(rep.Failed))
	return rep, nil
}

// NormalizeArchive expands archivePath and normalizes the statement files in it.
func (b *Balances) NormalizeArchive(ctx context.Context, archivePath string) (Report, error) {
	b.opts.logger().Info("archive normalization started", "archive", filepath.Base(archivePath))

	dir, err := extract.Expand(archivePath)
	if err != nil {
		return Report{}, err
	}
	files, err := scan.Files(dir, IsDataFile)
	if err != nil {
		return Report{}, err
	}
	return walkFiles(ctx, b.opts, files, b.NormalizeFile)
}

// NormalizeFile normalizes one statement file and writes it under DestineDir
// with the same base name. It returns the number of rows written.
func (b *Balances) NormalizeFile(path string) (int, error) {
	t, err := ReadTable(path)
	if err != nil {
		return 0, err
	}
	df, err := NormalizeBalanceSheet(t)
	if err != nil {
		return 0, err
	}
	if err := writeFrame(filepath.Join(b.opts.DestineDir, filepath.Base(path)), df); err != nil {
		return 0, err
	}
	return df.Nrow(), nil
}

// IsDataFile reports whether name is a statement file of an annual archive.
// Every archive carries one descriptive file whose name is all lowercase; the
// statement files always have an uppercase acronym (BPA, DRE, ...) in the name.
func IsDataFile(name string) bool {
	return strings.HasSuffix(name, dataExt) && !isLower(name)
}

// isLower is true when s has at least one cased letter and none in uppercase.
func isLower(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			return false
		}
		if unicode.IsLower(r) {
			cased = true
		}
	}
	return cased
}

// NormalizeBalanceSheet turns a raw statement table into a frame with the
// schema.Balance columns, in order.
//
// Rows come in pairs (prior period, current period); only the current period,
// at odd positions, is kept. Values in unit scale are brought to thousands.
func NormalizeBalanceSheet(t *Table) (dataframe.DataFrame, error) {
	if err := t.checkColumns(balanceRequired, balanceOptional); err != nil {
		return dataframe.DataFrame{}, err
	}

	current := make([]int, 0, t.Nrow()/2)
	for i := 1; i < t.Nrow(); i += 2 {
		current = append(current, i)
	}
	df := t.df.Subset(current)

	values, err := column(df, valueColumn)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	scales, err := column(df, scaleColumn)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	for i := range values {
		if scales[i] != unitScale {
			continue
		}
		if values[i], err = toThousands(values[i]); err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("row %d: %w", 2*i+2, err)
		}
	}
	df = df.Mutate(series.New(values, series.String, valueColumn))

	if !t.Has(statementColumn) {
		df = df.Mutate(series.New(make([]string, df.Nrow()), series.String, statementColumn))
	}
	df = df.Drop(present(df, balanceIgnored))
	for i, src := range balanceSources {
		df = df.Rename(schema.Balance.Columns[i], src)
	}
	df = df.Select(schema.Balance.Columns)
	return df, df.Err
}

func toThousands(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", valueColumn, err)
	}
	return strconv.FormatFloat(v/1000, 'f', -1, 64), nil
}

// requiredColumns is sources plus dropped, minus optional.
func requiredColumns(sources, dropped, optional []string) []string {
	skip := make(map[string]bool, len(optional))
	for _, c := range optional {
		skip[c] = true
	}
	var out []string
	for _, c := range append(append([]string{}, sources...), dropped...) {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}
