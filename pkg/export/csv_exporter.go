package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVOption customises a CSVExporter.
type CSVOption func(*CSVExporter)

// WithDelimiter overrides the field separator.
func WithDelimiter(r rune) CSVOption {
	return func(e *CSVExporter) { e.delimiter = r }
}

// WithBOM prefixes output with a UTF-8 byte order mark so spreadsheet tools
// detect the encoding of accented headers.
func WithBOM() CSVOption {
	return func(e *CSVExporter) { e.bom = true }
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct {
	delimiter rune
	bom       bool
}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter(opts ...CSVOption) *CSVExporter {
	e := &CSVExporter{delimiter: ','}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	if e.bom {
		buf.WriteString("\xef\xbb\xbf")
	}
	writer := csv.NewWriter(buf)
	writer.Comma = e.delimiter
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ScheduleDataset flattens entries using the same headers the importer
// accepts, so an export can be edited and imported again.
func ScheduleDataset(entries []ScheduleEntry) Dataset {
	headers := []string{"Date", "Heure de début", "Heure de fin", "Module", "Formation", "Formateur", "Salle", "Notes"}
	rows := make([]map[string]string, 0, len(entries))
	for _, e := range sortedEntries(entries) {
		rows = append(rows, map[string]string{
			"Date":           e.Date.Format("2006-01-02"),
			"Heure de début": e.StartTime,
			"Heure de fin":   e.EndTime,
			"Module":         e.Title,
			"Formation":      e.Formation,
			"Formateur":      e.Instructor,
			"Salle":          e.Room,
			"Notes":          e.Notes,
		})
	}
	return Dataset{Headers: headers, Rows: rows}
}
