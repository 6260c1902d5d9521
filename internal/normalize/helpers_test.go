package normalize

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

var balanceHeader = []string{
	"CNPJ_CIA", "DT_REFER", "VERSAO", "DENOM_CIA", "CD_CVM", "GRUPO_DFP", "MOEDA",
	"ESCALA_MOEDA", "ORDEM_EXERC", "DT_INI_EXERC", "DT_FIM_EXERC", "COLUNA_DF",
	"CD_CONTA", "DS_CONTA", "VL_CONTA", "ST_CONTA_FIXA",
}

// balanceRow builds a raw statement row; order is "PENÚLTIMO" or "ÚLTIMO".
func balanceRow(order, scale, value string) map[string]string {
	return map[string]string{
		"CNPJ_CIA":      "00.000.000/0001-91",
		"DT_REFER":      "2020-12-31",
		"VERSAO":        "1",
		"DENOM_CIA":     "BANCO DO BRASIL S.A.",
		"CD_CVM":        "1023",
		"GRUPO_DFP":     "DF Consolidado - Balanço Patrimonial Ativo",
		"MOEDA":         "REAL",
		"ESCALA_MOEDA":  scale,
		"ORDEM_EXERC":   order,
		"DT_INI_EXERC":  "2020-01-01",
		"DT_FIM_EXERC":  "2020-12-31",
		"COLUNA_DF":     "Capital Social",
		"CD_CONTA":      "1.01",
		"DS_CONTA":      "Caixa e Equivalentes de Caixa",
		"VL_CONTA":      value,
		"ST_CONTA_FIXA": "S",
	}
}

var registerHeader = []string{
	"CNPJ_CIA", "DENOM_SOCIAL", "DENOM_COMERC", "DT_REG", "DT_CONST", "DT_CANCEL",
	"MOTIVO_CANCEL", "SIT", "DT_INI_SIT", "CD_CVM", "SETOR_ATIV", "TP_MERC", "CATEG_REG",
	"DT_INI_CATEG", "SIT_EMISSOR", "DT_INI_SIT_EMISSOR", "TP_ENDER", "LOGRADOURO", "COMPL",
	"BAIRRO", "MUN", "UF", "PAIS", "CEP", "DDD_TEL", "TEL", "DDD_FAX", "FAX", "EMAIL",
	"TP_RESP", "RESP", "DT_INI_RESP", "LOGRADOURO_RESP", "COMPL_RESP", "BAIRRO_RESP",
	"MUN_RESP", "UF_RESP", "PAIS_RESP", "CEP_RESP", "DDD_TEL_RESP", "TEL_RESP",
	"DDD_FAX_RESP", "FAX_RESP", "EMAIL_RESP", "CNPJ_AUDITOR", "AUDITOR",
}

func registerRow(cvmCode, name string) map[string]string {
	row := make(map[string]string, len(registerHeader))
	for _, c := range registerHeader {
		row[c] = strings.ToLower(c)
	}
	row["CNPJ_CIA"] = "00.000.000/0001-91"
	row["DENOM_SOCIAL"] = name
	row["CD_CVM"] = cvmCode
	row["DDD_TEL"] = "11"
	for _, c := range []string{"DT_REG", "DT_CONST", "DT_CANCEL", "DT_INI_SIT", "DT_INI_CATEG", "DT_INI_SIT_EMISSOR", "DT_INI_RESP"} {
		row[c] = "2020-01-15"
	}
	return row
}

// renderCSV renders rows under header as ';' separated text. Columns
// missing from a row are left empty.
func renderCSV(t *testing.T, header []string, rows ...map[string]string) string {
	t.Helper()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	require.NoError(t, w.Write(header))
	for _, row := range rows {
		rec := make([]string, len(header))
		for i, c := range header {
			rec[i] = row[c]
		}
		require.NoError(t, w.Write(rec))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return buf.String()
}

func without(header []string, drop ...string) []string {
	var out []string
	for _, c := range header {
		skip := false
		for _, d := range drop {
			skip = skip || c == d
		}
		if !skip {
			out = append(out, c)
		}
	}
	return out
}

func mustParse(t *testing.T, content string) *Table {
	t.Helper()

	tbl, err := parseTable(strings.NewReader(content))
	require.NoError(t, err)
	return tbl
}

// rowsOf returns the data rows of a normalized frame after checking its header.
func rowsOf(t *testing.T, df dataframe.DataFrame, header []string) [][]string {
	t.Helper()

	require.NoError(t, df.Err)
	recs := df.Records()
	require.Equal(t, header, recs[0])
	return recs[1:]
}

// writeLatin1 writes content the way the portal publishes it.
func writeLatin1(t *testing.T, path, content string) {
	t.Helper()

	enc, err := charmap.ISO8859_1.NewEncoder().String(content)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(enc), 0o644))
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		enc, err := charmap.ISO8859_1.NewEncoder().String(content)
		require.NoError(t, err)
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(enc))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

// readOutput reads a normalized (UTF-8) file back.
func readOutput(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	recs, err := r.ReadAll()
	require.NoError(t, err)
	return recs
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) errorEntries(t *testing.T) []map[string]any {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["level"] == "ERROR" {
			out = append(out, entry)
		}
	}
	return out
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
