package app

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

func formatReport(rep report) string {
	loc := rep.Location
	if loc == nil {
		loc = time.Local
	}

	sb := strings.Builder{}
	sb.WriteString("Fizim - Finalizado\n")
	if rep.RunID != "" {
		sb.WriteString("Execução: " + rep.RunID + "\n")
	}
	sb.WriteString("Início: " + rep.StartedAt.In(loc).Format(time.RFC3339) + "\n")
	sb.WriteString("Fim: " + rep.FinishedAt.In(loc).Format(time.RFC3339) + "\n")
	sb.WriteString(fmt.Sprintf("Duração: %s\n", rep.FinishedAt.Sub(rep.StartedAt)))

	if rep.DownloadEnabled {
		sb.WriteString(fmt.Sprintf("\nPacotes do portal: %d\n", len(rep.Packages)))
		sb.WriteString(fmt.Sprintf("Arquivos baixados: %d\n", rep.Downloaded))
	}

	if len(rep.Normalized) > 0 {
		sb.WriteString("\nArquivos normalizados:\n")
		names := make([]string, 0, len(rep.Normalized))
		for k := range rep.Normalized {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			r := rep.Normalized[k]
			sb.WriteString(fmt.Sprintf("- %s: %d arquivos, %d linhas, %d falhas\n", k, r.Normalized, r.Rows, len(r.Failed)))
			for _, f := range r.Failed {
				sb.WriteString(fmt.Sprintf("  - %s: %v\n", filepath.Base(f.File), f.Err))
			}
		}
	}

	if rep.LoadEnabled {
		sb.WriteString("\nLinhas carregadas por tabela:\n")
		for _, l := range rep.Loaded {
			sb.WriteString(fmt.Sprintf("- %s: %d (%d arquivos, %d falhas)\n", l.Table, l.Rows, l.Files, len(l.Failed)))
			if l.PreviousLoad != "" {
				sb.WriteString("  carga anterior: " + l.PreviousLoad + "\n")
			}
		}
	}

	if len(rep.Errors) > 0 {
		sb.WriteString("\nErros:\n")
		for _, e := range rep.Errors {
			sb.WriteString("- " + e + "\n")
		}
	}
	return sb.String()
}
