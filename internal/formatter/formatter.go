// package formatter fetches, paginates and renders detection summary reports (CSV) for terminal output
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/detectx/internal/shared"
)

const (
	// DefaultPageSize is the number of report rows shown per page
	DefaultPageSize = 20
	// MaxCellWidth is the number of characters shown before a cell is truncated
	MaxCellWidth = 20
	// serialColumn is renumbered on render so it always reflects the row position
	serialColumn = "SR."
)

// PageSizes are the page sizes offered by interactive front ends.
var PageSizes = []int{10, 20, 30, 40, 50}

var ErrEmptyReport = errors.New("report contains no rows")

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Report is a parsed summary report: a header row plus data rows of equal width.
type Report struct {
	Headers []string
	Rows    [][]string
}

// Total returns the number of detected objects (data rows) in the report
func (r *Report) Total() int {
	return len(r.Rows)
}

// PageCount returns the number of pages needed to show every row at pageSize, at least one.
func (r *Report) PageCount(pageSize int) int {
	pageSize = normalizePageSize(pageSize)
	if len(r.Rows) == 0 {
		return 1
	}
	return (len(r.Rows) + pageSize - 1) / pageSize
}

// Page returns the rows on the zero-based page index.
func (r *Report) Page(index, pageSize int) ([][]string, error) {
	pageSize = normalizePageSize(pageSize)
	if index < 0 || index >= r.PageCount(pageSize) {
		return nil, fmt.Errorf("%w: page %d out of range (1-%d)", shared.ErrInvalidArgument, index+1, r.PageCount(pageSize))
	}

	start := index * pageSize
	end := min(start+pageSize, len(r.Rows))
	return r.Rows[start:end], nil
}

// ParseReport reads CSV text, treating the first row as headers and skipping empty lines.
//
// Numeric cells are formatted to two decimal places; short rows are padded to the header width.
func ParseReport(rd io.Reader) (*Report, error) {
	reader := csv.NewReader(rd)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse report CSV: %w", err)
	}

	records = skipEmpty(records)
	if len(records) == 0 {
		return nil, ErrEmptyReport
	}

	report := &Report{Headers: records[0], Rows: make([][]string, 0, len(records)-1)}
	for _, record := range records[1:] {
		row := make([]string, len(report.Headers))
		for i := range row {
			if i < len(record) {
				row[i] = FormatDecimal(record[i])
			}
		}
		report.Rows = append(report.Rows, row)
	}

	return report, nil
}

// FetchReport downloads the CSV at url and parses it with [ParseReport].
//
// The client defaults to one with a 30 second timeout.
func FetchReport(ctx context.Context, client *http.Client, url string) (*Report, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: report URL", shared.ErrMissingArgument)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create report request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch report: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	return ParseReport(bytes.NewReader(data))
}

// LoadReport reads a report from a local file, or fetches it when source is an http(s) URL.
func LoadReport(ctx context.Context, client *http.Client, source string) (*Report, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return FetchReport(ctx, client, source)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()
	return ParseReport(f)
}

// FormatDecimal formats numeric values to two decimal places and returns anything else unchanged
func FormatDecimal(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || isInfOrNaN(trimmed) {
		return value
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Truncate shortens s to [MaxCellWidth] runes followed by "...".
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxCellWidth {
		return s
	}
	return string(runes[:MaxCellWidth]) + "..."
}

// RenderPage renders one page of the report as a bordered table.
//
// Cells in the serial column are replaced with the row's position within the report.
func RenderPage(r *Report, index, pageSize int) (string, error) {
	rows, err := r.Page(index, pageSize)
	if err != nil {
		return "", err
	}

	offset := index * normalizePageSize(pageSize)
	serial := -1
	for i, h := range r.Headers {
		if h == serialColumn {
			serial = i
		}
	}

	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(row))
		for j, cell := range row {
			if j == serial {
				cells[i][j] = strconv.Itoa(offset + i + 1)
				continue
			}
			cells[i][j] = Truncate(cell)
		}
	}

	return RenderTable(r.Headers, cells), nil
}

// RenderTable renders headers and rows as a bordered table without altering cell contents.
func RenderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, row := range rows {
		t.Row(row...)
	}
	return t.Render()
}

// WriteReport writes the total count, one rendered page and a page footer to w.
func WriteReport(w io.Writer, r *Report, index, pageSize int) error {
	rendered, err := RenderPage(r, index, pageSize)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "Total Objects Detected: %d\n", r.Total()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if _, err := fmt.Fprintln(w, rendered); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if _, err := fmt.Fprintf(w, "Page %d of %d\n", index+1, r.PageCount(pageSize)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ExportToCSV writes the report back out as CSV with formatted cells
func ExportToCSV(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(r.Headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	if err := writer.WriteAll(r.Rows); err != nil {
		return nil, fmt.Errorf("failed to write CSV records: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteCSVExport saves the formatted report to path.
func WriteCSVExport(r *Report, path string) error {
	data, err := ExportToCSV(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write CSV file: %w", err)
	}
	return nil
}

// ToSummaryJSON returns the report as a JSON array of header-keyed objects.
func ToSummaryJSON(r *Report) ([]byte, error) {
	objects := make([]map[string]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		obj := make(map[string]string, len(r.Headers))
		for i, h := range r.Headers {
			obj[h] = row[i]
		}
		objects = append(objects, obj)
	}
	return shared.MarshalJSON(objects, true)
}

func normalizePageSize(pageSize int) int {
	if pageSize <= 0 {
		return DefaultPageSize
	}
	return pageSize
}

func skipEmpty(records [][]string) [][]string {
	kept := records[:0]
	for _, record := range records {
		empty := true
		for _, cell := range record {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if !empty {
			kept = append(kept, record)
		}
	}
	return kept
}

// isInfOrNaN rejects spellings ParseFloat accepts that are not finite numbers
func isInfOrNaN(s string) bool {
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "inf", "infinity", "nan":
		return true
	}
	return false
}
