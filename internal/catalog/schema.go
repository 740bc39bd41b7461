package catalog

import (
	"path/filepath"
	"strings"
	"unicode"
)

// Type tags assigned to columns.
const (
	TypeInteger   = "INTEGER"
	TypeReal      = "REAL"
	TypeTimestamp = "TIMESTAMP"
	TypeText      = "TEXT"
)

// Column is one column of a table schema.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableSchema describes one materialized table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// SanitizeTableName strips the file extension and replaces every rune that
// is not a letter or digit with an underscore.
func SanitizeTableName(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var sb strings.Builder
	for _, r := range base {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// FormatSchema renders the schema text handed to the model:
//
//	Table: <name>
//	Columns: <col> (<TYPE>), ...
//
// with a blank line after each table.
func FormatSchema(tables []TableSchema) string {
	var sb strings.Builder
	for _, t := range tables {
		sb.WriteString("Table: ")
		sb.WriteString(t.Name)
		sb.WriteString("\nColumns: ")
		for i, c := range t.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c.Name)
			sb.WriteString(" (")
			sb.WriteString(c.Type)
			sb.WriteString(")")
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// typeFromDeclared maps a declared SQLite column type onto a type tag,
// following SQLite's affinity rules.
func typeFromDeclared(declared string) string {
	d := strings.ToUpper(declared)
	switch {
	case strings.Contains(d, "INT"):
		return TypeInteger
	case strings.Contains(d, "TIMESTAMP"), strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return TypeTimestamp
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"):
		return TypeReal
	default:
		return TypeText
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
