// Package parser turns an uploaded completion-export file into normalized,
// zero-indexed row records ready for ingestion.
//
// Two physical formats are supported: delimited text (comma, semicolon, or
// tab, auto-detected from the header line) and XLSX workbooks (first sheet).
// The format is chosen from the declared filename extension. Parsing is pure;
// it never touches session state.
package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one normalized record from the export file.
// Index is the row's zero-based position among the surviving (non-dropped)
// rows, in file order.
type Row struct {
	Index          int
	GameTitle      string
	PlatformName   string
	RegionName     string
	SourceType     string
	TimeText       string
	CompletedAt    string // raw text; normalized downstream via ParseCompletionDate
	CompletionType string
	PlaytimeHours  string // raw text; normalized downstream via ParsePlaytime
}

// ParseError indicates the export file itself is unusable: missing header,
// no data rows, or no row with a usable title. No session is created when
// parsing fails.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse export: " + e.Reason
}

// Column aliases, matched after lowercasing and space-trimming the header
// cell. The title column is mandatory; everything else is optional.
var columnAliases = map[string]string{
	"title":           "title",
	"game":            "title",
	"game title":      "title",
	"name":            "title",
	"platform":        "platform",
	"system":          "platform",
	"console":         "platform",
	"region":          "region",
	"source":          "source",
	"source type":     "source",
	"storefront":      "source",
	"time":            "timetext",
	"time spent":      "timetext",
	"main story":      "timetext",
	"completed":       "completed",
	"finished":        "completed",
	"completed date":  "completed",
	"completion date": "completed",
	"date finished":   "completed",
	"type":            "completiontype",
	"completion":      "completiontype",
	"completion type": "completiontype",
	"playtime":        "playtime",
	"playtime hours":  "playtime",
	"hours":           "playtime",
	"status":          "status", // present in some exports, always ignored
}

// Parse reads the export file and returns its normalized rows.
// Rows with a blank title are dropped with a warning; if nothing survives,
// Parse fails with a ParseError and the caller must not create a session.
func Parse(r io.Reader, filename string) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}

	var records [][]string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		records, err = readWorkbook(data)
	default:
		records, err = readDelimited(data)
	}
	if err != nil {
		return nil, err
	}

	return normalize(records, filename)
}

// readDelimited parses comma/semicolon/tab separated text. The delimiter is
// detected from the first line.
func readDelimited(data []byte) ([][]string, error) {
	data = sanitizeUTF8(data)
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1 // ragged rows are tolerated, cells padded later
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("malformed delimited file: %v", err)}
	}
	return records, nil
}

// readWorkbook parses the first sheet of an XLSX file.
func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("malformed workbook: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Reason: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("read sheet %q: %v", sheets[0], err)}
	}
	return rows, nil
}

// detectDelimiter picks the delimiter that appears most often in the header
// line. Comma wins ties, matching the overwhelmingly common case.
func detectDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}

	best, bestCount := ',', bytes.Count(header, []byte{','})
	for _, c := range []rune{'\t', ';'} {
		if n := bytes.Count(header, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// normalize maps raw records onto Rows using the header aliases.
func normalize(records [][]string, filename string) ([]Row, error) {
	if len(records) == 0 {
		return nil, &ParseError{Reason: "file has no header row"}
	}

	cols := mapHeader(records[0])
	if _, ok := cols["title"]; !ok {
		return nil, &ParseError{Reason: "header has no title column"}
	}
	if len(records) == 1 {
		return nil, &ParseError{Reason: "file has no data rows"}
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		title := strings.TrimSpace(cell(rec, cols, "title"))
		if title == "" {
			slog.Warn("dropping row with blank title",
				"file", filename,
				"file_row", i+2, // 1-based, after header
			)
			continue
		}

		rows = append(rows, Row{
			Index:          len(rows),
			GameTitle:      title,
			PlatformName:   strings.TrimSpace(cell(rec, cols, "platform")),
			RegionName:     strings.TrimSpace(cell(rec, cols, "region")),
			SourceType:     strings.TrimSpace(cell(rec, cols, "source")),
			TimeText:       strings.TrimSpace(cell(rec, cols, "timetext")),
			CompletedAt:    strings.TrimSpace(cell(rec, cols, "completed")),
			CompletionType: strings.TrimSpace(cell(rec, cols, "completiontype")),
			PlaytimeHours:  strings.TrimSpace(cell(rec, cols, "playtime")),
		})
	}

	if len(rows) == 0 {
		return nil, &ParseError{Reason: "no rows with a usable title"}
	}
	return rows, nil
}

// mapHeader resolves each header cell to a canonical column name.
// Duplicate headers keep the first occurrence.
func mapHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		canonical, ok := columnAliases[key]
		if !ok {
			continue
		}
		if _, seen := cols[canonical]; !seen {
			cols[canonical] = i
		}
	}
	return cols
}

// cell returns the named column's value for a record, tolerating short rows.
func cell(rec []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}
