package app

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramnasidharta/fizim/internal/config"
	"github.com/ramnasidharta/fizim/internal/loaders"
	"github.com/ramnasidharta/fizim/internal/normalize"
	"github.com/ramnasidharta/fizim/internal/schema"
	"github.com/ramnasidharta/fizim/internal/state"
)

func TestFormatReport(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	rep := report{
		RunID:           "3f1c2d7e-0000-4000-8000-000000000001",
		StartedAt:       start,
		FinishedAt:      start.Add(2 * time.Minute),
		Location:        time.FixedZone("", -3*3600),
		DownloadEnabled: true,
		Packages:        []string{"cia_aberta-cad", "cia_aberta-doc-dfp"},
		Downloaded:      3,
		Normalized: map[string]normalize.Report{
			Registers: {Normalized: 1, Rows: 5},
			Balances: {Normalized: 4, Rows: 100, Failed: []normalize.FileError{
				{File: "/x/dfp_cia_aberta_BPA_con_2020.csv", Err: errors.New("boom")},
			}},
		},
		LoadEnabled: true,
		Loaded: []TableLoad{
			{LoadResult: loaders.LoadResult{Table: "balance", Files: 4, Rows: 100}, PreviousLoad: "2025-12-01T03:00:00Z"},
			{LoadResult: loaders.LoadResult{Table: "company", Files: 1, Rows: 5}},
		},
	}

	out := formatReport(rep)
	required := []string{
		"Fizim - Finalizado",
		"Execução: 3f1c2d7e-0000-4000-8000-000000000001",
		"Início: 2026-01-01T07:00:00-03:00",
		"Fim: 2026-01-01T07:02:00-03:00",
		"Duração: 2m0s",
		"Pacotes do portal: 2",
		"Arquivos baixados: 3",
		"- balances: 4 arquivos, 100 linhas, 1 falhas",
		"  - dfp_cia_aberta_BPA_con_2020.csv: boom",
		"- registers: 1 arquivos, 5 linhas, 0 falhas",
		"- balance: 100 (4 arquivos, 0 falhas)",
		"- company: 5 (1 arquivos, 0 falhas)",
		"- balance: 100 (4 arquivos, 0 falhas)\n  carga anterior: 2025-12-01T03:00:00Z\n",
	}
	for _, s := range required {
		assert.Contains(t, out, s)
	}
	assert.Less(t, strings.Index(out, "- balances"), strings.Index(out, "- registers"))
	assert.NotContains(t, out, "Erros:")
	assert.Equal(t, 1, strings.Count(out, "carga anterior"))
}

func TestFormatReport_DisabledStagesAndErrors(t *testing.T) {
	t.Parallel()

	out := formatReport(report{Errors: []string{"normalize balances: no such file"}})
	assert.NotContains(t, out, "Arquivos baixados")
	assert.NotContains(t, out, "Linhas carregadas")
	assert.Contains(t, out, "Erros:\n- normalize balances: no such file\n")
}

func TestNormalize_UnknownNormalizer(t *testing.T) {
	t.Parallel()

	_, err := Normalize(context.Background(), config.Config{}, "ledger")
	assert.ErrorContains(t, err, "unknown normalizer")
}

func TestNormalize_EmptyRegisterDataset(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, normalize.RegisterDataset, "DADOS"), 0o755))
	cfg := config.Config{
		DatasetsDir:      root,
		RegistersDir:     filepath.Join(root, "registers"),
		NormalizeWorkers: 1,
	}

	reps, err := Normalize(context.Background(), cfg, Registers)
	require.NoError(t, err)
	assert.Equal(t, normalize.Report{}, reps[Registers])
	assert.DirExists(t, cfg.RegistersDir)
}

func TestNormalize_MissingBalanceDataset(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := config.Config{DatasetsDir: root, DestineDir: filepath.Join(root, "out"), NormalizeWorkers: 1}

	_, err := Normalize(context.Background(), cfg, Balances)
	assert.ErrorContains(t, err, "normalize balances")
}

func TestLoadAll(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	balDir := filepath.Join(root, "normalized")
	regDir := filepath.Join(root, "registers")
	require.NoError(t, os.MkdirAll(balDir, 0o755))
	require.NoError(t, os.MkdirAll(regDir, 0o755))
	content := strings.Join(schema.Balance.Columns, ";") + "\n" + strings.Repeat("x;", len(schema.Balance.Columns)-1) + "x\n"
	require.NoError(t, os.WriteFile(filepath.Join(balDir, "dfp_cia_aberta_BPA_con_2020.csv"), []byte(content), 0o644))

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fizim_meta`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT value FROM fizim_meta`).
		WithArgs(state.BalancesLoadedAt).
		WillReturnRows(mock.NewRows([]string{"value"}).AddRow("2025-12-01T03:00:00Z"))
	mock.ExpectExec(`DROP TABLE IF EXISTS "balance"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "balance"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"balance"}, schema.Balance.Columns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO fizim_meta`).
		WithArgs(state.BalancesLoadedAt, "2026-01-01T00:00:00Z").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT value FROM fizim_meta`).
		WithArgs(state.RegistersLoadedAt).
		WillReturnRows(mock.NewRows([]string{"value"}))

	tasks := loadTasks(config.Config{DestineDir: balDir, RegistersDir: regDir})
	res, err := loadAll(context.Background(), mock, tasks, 1, now)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, TableLoad{
		LoadResult:   loaders.LoadResult{Table: "balance", Files: 1, Rows: 1},
		PreviousLoad: "2025-12-01T03:00:00Z",
	}, res[0])
	assert.Equal(t, TableLoad{LoadResult: loaders.LoadResult{Table: "company"}}, res[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAll_PreviousLoadReadFails(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fizim_meta`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT value FROM fizim_meta`).
		WithArgs(state.BalancesLoadedAt).
		WillReturnError(errors.New("timeout"))

	res, err := loadAll(context.Background(), mock, loadTasks(config.Config{}), 1, time.Now)
	assert.ErrorContains(t, err, state.BalancesLoadedAt)
	assert.Empty(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAll_MetaTableFails(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fizim_meta`).WillReturnError(errors.New("denied"))

	_, err = loadAll(context.Background(), mock, loadTasks(config.Config{}), 1, time.Now)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_EmptyDatasets(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, ds := range append(normalize.BalanceDatasets, normalize.RegisterDataset) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, ds, "DADOS"), 0o755))
	}
	cfg := config.Config{
		DatasetsDir:      root,
		DestineDir:       filepath.Join(root, "normalized"),
		RegistersDir:     filepath.Join(root, "registers"),
		NormalizeWorkers: 1,
	}

	require.NoError(t, Run(context.Background(), cfg))
	assert.DirExists(t, cfg.DestineDir)
	assert.DirExists(t, cfg.RegistersDir)
}

func TestRun_MissingDatasetFails(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := config.Config{
		DatasetsDir:      root,
		DestineDir:       filepath.Join(root, "normalized"),
		RegistersDir:     filepath.Join(root, "registers"),
		NormalizeWorkers: 1,
	}
	assert.ErrorContains(t, Run(context.Background(), cfg), "normalize balances")
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestCheckMail_Unreachable(t *testing.T) {
	t.Parallel()

	port := closedPort(t)
	assert.ErrorContains(t, CheckMail(config.Config{SMTPHost: "127.0.0.1", SMTPPort: port}), "smtp dial")
	assert.ErrorContains(t, CheckMail(config.Config{SMTPHost: "127.0.0.1", SMTPPort: port, SMTPUser: "u", SMTPPass: "p"}), "smtp dial")
}

func TestRun_UnreachableMailServerDoesNotFailRun(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, ds := range append(normalize.BalanceDatasets, normalize.RegisterDataset) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, ds, "DADOS"), 0o755))
	}
	cfg := config.Config{
		DatasetsDir:      root,
		DestineDir:       filepath.Join(root, "normalized"),
		RegistersDir:     filepath.Join(root, "registers"),
		NormalizeWorkers: 1,
		SMTPHost:         "127.0.0.1",
		SMTPPort:         closedPort(t),
		SMTPUser:         "fizim@example.com",
		SMTPPass:         "secret",
		MailTo:           "ops@example.com",
	}

	require.NoError(t, Run(context.Background(), cfg))
}
