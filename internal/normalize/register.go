package normalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/ramnasidharta/fizim/internal/scan"
	"github.com/ramnasidharta/fizim/internal/schema"
)

// RegisterDataset is the company register dataset.
const RegisterDataset = "cia_aberta-cad"

// Raw columns feeding schema.Company, position by position.
var registerSources = []string{
	"CNPJ_CIA", "DENOM_SOCIAL", "DENOM_COMERC", "DT_REG", "DT_CONST", "DT_CANCEL",
	"MOTIVO_CANCEL", "SIT", "DT_INI_SIT", "CD_CVM", "SETOR_ATIV", "TP_MERC", "CATEG_REG",
	"DT_INI_CATEG", "SIT_EMISSOR", "DT_INI_SIT_EMISSOR", "TP_ENDER", "LOGRADOURO", "COMPL",
	"BAIRRO", "MUN", "UF", "PAIS", "CEP", "DDD_TEL", "TEL", "EMAIL", "TP_RESP", "RESP",
	"DT_INI_RESP", "LOGRADOURO_RESP", "COMPL_RESP", "BAIRRO_RESP", "MUN_RESP", "UF_RESP",
	"PAIS_RESP", "CEP_RESP", "DDD_TEL_RESP", "TEL_RESP", "EMAIL_RESP", "CNPJ_AUDITOR", "AUDITOR",
}

var (
	registerDropped  = []string{"DDD_FAX", "FAX", "DDD_FAX_RESP", "FAX_RESP"}
	registerRequired = requiredColumns(registerSources, registerDropped, nil)

	registerDates = []string{
		"register_date", "constitution_date", "cancellation_date", "situation_start_date",
		"category_start_date", "issuer_situation_start_date", "resp_acting_start_date",
	}
)

// Longest area code kept in the std column.
const maxAreaCodeLen = 4

// Registers normalizes the company register dataset.
//
//	<DatasetsDir>/cia_aberta-cad/DADOS/<file>.csv  ->  <DestineDir>/<file>.csv
type Registers struct {
	opts Options
}

func NewRegisters(opts Options) *Registers {
	return &Registers{opts: opts}
}

// NormalizeAll normalizes the register dataset into DestineDir.
func (r *Registers) NormalizeAll(ctx context.Context) (Report, error) {
	r.opts.logger().Debug("creating output directory", "dir", r.opts.DestineDir)
	if err := os.MkdirAll(r.opts.DestineDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create output dir: %w", err)
	}
	return r.NormalizeDataset(ctx, filepath.Join(r.opts.DatasetsDir, RegisterDataset))
}

// NormalizeDataset normalizes every .csv directly under datasetPath/DADOS.
func (r *Registers) NormalizeDataset(ctx context.Context, datasetPath string) (Report, error) {
	log := r.opts.logger().With("dataset", filepath.Base(datasetPath))
	log.Info("dataset normalization started")

	files, err := scan.Files(scan.DataDir(datasetPath), scan.HasSuffix(dataExt))
	if err != nil {
		return Report{}, err
	}
	rep, err := walkFiles(ctx, r.opts, files, r.NormalizeFile)
	log.Info("dataset normalization finished", "normalized", rep.Normalized, "failed", len(rep.Failed))
	return rep, err
}

// NormalizeFile normalizes one register file and writes it under DestineDir
// with the same base name. It returns the number of rows written.
func (r *Registers) NormalizeFile(path string) (int, error) {
	t, err := ReadTable(path)
	if err != nil {
		return 0, err
	}
	df, err := NormalizeRegister(t)
	if err != nil {
		return 0, err
	}
	if err := writeFrame(filepath.Join(r.opts.DestineDir, filepath.Base(path)), df); err != nil {
		return 0, err
	}
	return df.Nrow(), nil
}

// NormalizeRegister turns a raw register table into a frame with the
// schema.Company columns, in order: fax columns dropped, one row per cvm_code
// (the last one in the file), and malformed area codes and dates emptied.
func NormalizeRegister(t *Table) (dataframe.DataFrame, error) {
	if err := t.checkColumns(registerRequired, nil); err != nil {
		return dataframe.DataFrame{}, err
	}

	df := t.df.Subset(lastOccurrences(t.Col("CD_CVM")))
	df = df.Drop(registerDropped)
	for i, src := range registerSources {
		df = df.Rename(schema.Company.Columns[i], src)
	}
	df = df.Select(schema.Company.Columns)

	std, err := column(df, "std")
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	for i, v := range std {
		if utf8.RuneCountInString(v) > maxAreaCodeLen {
			std[i] = ""
		}
	}
	df = df.Mutate(series.New(std, series.String, "std"))

	// dates are only checked for a yyyy-mm-dd shape (two hyphens), not parsed
	for _, c := range registerDates {
		vals, err := column(df, c)
		if err != nil {
			return dataframe.DataFrame{}, err
		}
		for i, v := range vals {
			if strings.Count(v, "-") != 2 {
				vals[i] = ""
			}
		}
		df = df.Mutate(series.New(vals, series.String, c))
	}
	return df, df.Err
}

// lastOccurrences returns the positions of the last row carrying each key,
// in file order.
func lastOccurrences(keys []string) []int {
	last := make(map[string]int, len(keys))
	for i, k := range keys {
		last[k] = i
	}
	out := make([]int, 0, len(last))
	for i, k := range keys {
		if last[k] == i {
			out = append(out, i)
		}
	}
	return out
}
