package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTableName(t *testing.T) {
	tests := map[string]string{
		"orders.csv":       "orders",
		"sales data.csv":   "sales_data",
		"q1-2024.v2.csv":   "q1_2024_v2",
		"/tmp/x/users.csv": "users",
		"café_menu.csv":    "café_menu",
		"no_extension":     "no_extension",
		"2024 report!.csv": "2024_report_",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeTableName(in), in)
	}
}

func TestFormatSchema(t *testing.T) {
	got := FormatSchema([]TableSchema{
		{Name: "a", Columns: []Column{{Name: "x", Type: TypeInteger}}},
		{Name: "b", Columns: []Column{{Name: "y", Type: TypeReal}, {Name: "z", Type: TypeTimestamp}}},
	})
	assert.Equal(t, "Table: a\nColumns: x (INTEGER)\n\nTable: b\nColumns: y (REAL), z (TIMESTAMP)\n\n", got)
	assert.Empty(t, FormatSchema(nil))
}

func TestTypeFromDeclared(t *testing.T) {
	tests := map[string]string{
		"INTEGER":     TypeInteger,
		"bigint":      TypeInteger,
		"REAL":        TypeReal,
		"DOUBLE":      TypeReal,
		"TIMESTAMP":   TypeTimestamp,
		"DATETIME":    TypeTimestamp,
		"TEXT":        TypeText,
		"":            TypeText,
		"VARCHAR(10)": TypeText,
	}
	for in, want := range tests {
		assert.Equal(t, want, typeFromDeclared(in), in)
	}
}
