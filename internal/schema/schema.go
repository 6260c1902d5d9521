package schema

import "strings"

type TableSpec struct {
	Name    string
	Columns []string
}

// Index returns the position of column c, or -1.
func (t TableSpec) Index(c string) int {
	for i, col := range t.Columns {
		if col == c {
			return i
		}
	}
	return -1
}

// All columns as TEXT; typing happens downstream of the COPY.
func CreateTableSQL(t TableSpec) string {
	var sb strings.Builder
	sb.WriteString(`CREATE TABLE IF NOT EXISTS "`)
	sb.WriteString(t.Name)
	sb.WriteString(`" (`)
	for i, c := range t.Columns {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`"`)
		sb.WriteString(c)
		sb.WriteString(`" TEXT`)
	}
	sb.WriteString(");")
	return sb.String()
}
