// Package spreadsheet reads schedule imports from xlsx, xls and csv files.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for file extensions the parser cannot read.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// ErrEmptySheet is returned when the first sheet has no header row.
var ErrEmptySheet = errors.New("worksheet is empty")

// maxXLSRows bounds legacy workbook reads.
const maxXLSRows = 100000

// RowError reports the first data row missing a mandatory field. Row is the
// 1-based spreadsheet row number (the header occupies row 1).
type RowError struct {
	Row     int
	Missing []string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: missing %s", e.Row, strings.Join(e.Missing, " and "))
}

// Parse reads the first sheet of the file and returns one row per non-blank
// data line, in file order. The first row missing a module or a date aborts
// the whole parse.
func Parse(r io.Reader, filename string) ([]ParsedScheduleRow, error) {
	grid, err := ReadGrid(r, filename)
	if err != nil {
		return nil, err
	}
	return ParseGrid(grid)
}

// ParseGrid applies header resolution and validation to an in-memory grid.
func ParseGrid(grid [][]string) ([]ParsedScheduleRow, error) {
	if len(grid) == 0 {
		return nil, ErrEmptySheet
	}
	headers := grid[0]

	rows := make([]ParsedScheduleRow, 0, len(grid)-1)
	index := 0
	for _, cells := range grid[1:] {
		if isBlank(cells) {
			continue
		}
		row := Canonicalize(toRecord(headers, cells))
		if missing := missingFields(row); len(missing) > 0 {
			return nil, &RowError{Row: index + 2, Missing: missing}
		}
		rows = append(rows, row)
		index++
	}
	return rows, nil
}

// ReadGrid returns the raw cells of the first sheet.
func ReadGrid(r io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return readXLSX(data)
	case ".xls":
		return readXLS(data)
	case ".csv":
		return readCSV(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func readXLSX(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheet := file.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptySheet
	}
	rows, err := file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func readXLS(data []byte) ([][]string, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if workbook.NumSheets() == 0 {
		return nil, ErrEmptySheet
	}
	sheet := workbook.GetSheet(0)
	if sheet == nil {
		return nil, ErrEmptySheet
	}

	last := int(sheet.MaxRow)
	if last >= maxXLSRows {
		last = maxXLSRows - 1
	}
	rows := make([][]string, 0, last+1)
	for i := 0; i <= last; i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			cells = append(cells, row.Col(j))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.Comma = sniffDelimiter(data)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

// sniffDelimiter picks ';' for exports from French-locale spreadsheet tools.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func toRecord(headers, cells []string) Record {
	rec := make(Record, len(headers))
	for i, h := range headers {
		if _, seen := rec[h]; seen {
			continue
		}
		if i < len(cells) {
			rec[h] = cells[i]
		} else {
			rec[h] = ""
		}
	}
	return rec
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func missingFields(row ParsedScheduleRow) []string {
	var missing []string
	if row.Module == "" {
		missing = append(missing, "module")
	}
	if row.Date == "" {
		missing = append(missing, "date")
	}
	return missing
}
