package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayout is how TIMESTAMP cells are stored, so SQLite's date
// functions accept them.
const timestampLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var errNoHeader = errors.New("no header row")

// table is a decoded and typed dataset ready to persist.
type table struct {
	name    string
	source  string
	columns []Column
	rows    [][]any
}

// decode reads CSV content, normalizes headers and infers a type per column.
func decode(name string, r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	names := normalizeHeader(header)

	var raw [][]string
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if len(rec) > len(names) {
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(names), len(rec))
		}
		for len(rec) < len(names) {
			rec = append(rec, "")
		}
		raw = append(raw, rec)
	}

	t := &table{name: SanitizeTableName(name), source: name}
	if t.name == "" {
		return nil, fmt.Errorf("dataset name %q yields an empty table name", name)
	}

	t.columns = make([]Column, len(names))
	for i, n := range names {
		t.columns[i] = Column{Name: n, Type: inferColumn(raw, i)}
	}

	t.rows = make([][]any, len(raw))
	for r, rec := range raw {
		row := make([]any, len(names))
		for i, cell := range rec {
			row[i] = convert(cell, t.columns[i].Type)
		}
		t.rows[r] = row
	}
	return t, nil
}

// normalizeHeader names empty header cells "Unnamed: <i>" and suffixes
// duplicates with ".1", ".2", ...
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	next := make(map[string]int)
	for i, h := range header {
		if strings.TrimSpace(h) == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		name := h
		for used[name] {
			next[h]++
			name = h + "." + strconv.Itoa(next[h])
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func inferColumn(rows [][]string, col int) string {
	isInt, isFloat, isTime := true, true, true
	nonEmpty := 0

	for _, rec := range rows {
		cell := strings.TrimSpace(rec[col])
		if cell == "" {
			continue
		}
		nonEmpty++
		if isInt && !parsesInt(cell) {
			isInt = false
		}
		if isFloat && !parsesFloat(cell) {
			isFloat = false
		}
		if isTime {
			if _, ok := parseTimestamp(cell); !ok {
				isTime = false
			}
		}
		if !isInt && !isFloat && !isTime {
			return TypeText
		}
	}

	switch {
	case nonEmpty == 0:
		return TypeText
	case isInt:
		return TypeInteger
	case isFloat:
		return TypeReal
	case isTime:
		return TypeTimestamp
	default:
		return TypeText
	}
}

func convert(cell, typ string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	switch typ {
	case TypeInteger:
		v, _ := strconv.ParseInt(trimmed, 10, 64)
		return v
	case TypeReal:
		v, _ := strconv.ParseFloat(trimmed, 64)
		return v
	case TypeTimestamp:
		ts, _ := parseTimestamp(trimmed)
		return ts.UTC().Format(timestampLayout)
	default:
		return cell
	}
}

func parsesInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// parsesFloat accepts finite decimal numbers only; "NaN" and "Inf" stay text.
func parsesFloat(s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
