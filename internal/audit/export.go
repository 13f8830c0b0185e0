package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"time"
)

var csvHeader = []string{"occurred_at", "actor", "action", "entity", "entity_id", "meta"}

// WriteCSV mengubah baris timeline menjadi CSV.
func WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		meta := ""
		if len(row.Meta) > 0 {
			raw, err := json.Marshal(row.Meta)
			if err != nil {
				return nil, err
			}
			meta = string(raw)
		}
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			cell(row.Actor),
			cell(row.Action),
			cell(row.Entity),
			cell(row.EntityID),
			cell(meta),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cell keeps spreadsheet applications from evaluating a value as a formula.
func cell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}
