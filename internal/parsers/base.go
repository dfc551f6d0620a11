// Package parsers reads the CSV exports merchants and acquirers hand us.
//
// Three record kinds are supported:
//   - sales, one row per card sale, as exported from the point of sale
//   - receivables, one row per credit reported by the acquirer or bank
//   - fee rules, one row per registered MDR rate
//
// Header names are matched loosely: case, accents, spaces and punctuation are
// ignored, and every column has Portuguese and English aliases, so "Data Venda",
// "data_venda" and "sale_date" all resolve to the same field. The delimiter is
// detected from the header line unless configured.
//
// Row-level problems never abort a file. A row whose amount cannot be parsed is
// dropped and counted in ParseStats; a row whose sale date cannot be parsed is kept
// with a zero SaleDate so the predictor can report it.
//
// Example usage:
//
//	parser, err := NewTransactionParser(KindSale, nil)
//	sales, stats, err := parser.ParseFile(ctx, "sales.csv")
//
//	// Batches for large files
//	err = parser.Stream(ctx, file, "sales.csv", 1000, func(batch []models.Transaction) error {
//		_, err := store.InsertSales(ctx, batch)
//		return err
//	})
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang-settlement-reconciler/internal/normalize"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"
)

// ParseError describes a problem with one row.
type ParseError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d (%s='%s'): %s: %v", e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("line %d (%s='%s'): %s", e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds reader settings shared by every parser
type ParseConfig struct {
	HasHeader bool `mapstructure:"has_header"`

	// Delimiter of 0 means detect from the header line (';' or ',')
	Delimiter rune `mapstructure:"-"`

	// MaxErrors bounds ParseStats.Errors; counts stay exact
	MaxErrors int `mapstructure:"max_errors"`

	// MaxFieldSize rejects rows with a larger field
	MaxFieldSize int `mapstructure:"max_field_size"`
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:    true,
		Delimiter:    0,
		MaxErrors:    100,
		MaxFieldSize: 64 * 1024,
	}
}

// Validate checks the reader settings
func (c *ParseConfig) Validate() error {
	if !c.HasHeader {
		return fmt.Errorf("header row is required to map columns")
	}
	if c.Delimiter != 0 && c.Delimiter != ',' && c.Delimiter != ';' && c.Delimiter != '\t' && c.Delimiter != '|' {
		return fmt.Errorf("unsupported delimiter %q", c.Delimiter)
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative: %d", c.MaxErrors)
	}
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative: %d", c.MaxFieldSize)
	}
	return nil
}

// BaseParser provides the CSV plumbing common to every record kind
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("parser"),
	}
}

// ParseContext holds state during one parse
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	columns    map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:  source,
		columns: make(map[string]int),
		ctx:     ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// Has reports whether the file carries the column.
func (pc *ParseContext) Has(column string) bool {
	_, ok := pc.columns[column]
	return ok
}

// OpenFile opens a CSV file, mapping OS errors to file errors
func (bp *BaseParser) OpenFile(filePath string) (*os.File, error) {
	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	return file, nil
}

// NewReader wraps r in a csv.Reader, detecting the delimiter when needed.
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	buffered := bufio.NewReader(r)
	delimiter := bp.config.Delimiter
	if delimiter == 0 {
		delimiter = detectDelimiter(buffered)
	}

	reader := csv.NewReader(buffered)
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// detectDelimiter peeks at the first line and picks ';' when it outnumbers ','.
func detectDelimiter(r *bufio.Reader) rune {
	peek, _ := r.Peek(4096)
	line := string(peek)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	switch {
	case strings.Count(line, ";") > strings.Count(line, ","):
		return ';'
	case strings.Count(line, "\t") > strings.Count(line, ","):
		return '\t'
	default:
		return ','
	}
}

// ReadHeaders reads the header row and maps every known column to its index.
// A required column with no matching header is an error.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, columns []Column) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
				WithSuggestion("Ensure the file contains header and data rows")
		}
		return errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, 1, "headers", "", err)
	}
	parseCtx.LineNumber++

	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	parseCtx.Headers = make([]string, len(headers))
	byKey := make(map[string]int, len(headers))
	for i, h := range headers {
		parseCtx.Headers[i] = strings.TrimSpace(h)
		key := normalize.Text(h)
		if _, dup := byKey[key]; !dup {
			byKey[key] = i
		}
	}

	var missing []string
	for _, col := range columns {
		idx := -1
		for _, alias := range col.names() {
			if i, ok := byKey[normalize.Text(alias)]; ok {
				idx = i
				break
			}
		}
		if idx >= 0 {
			parseCtx.columns[col.Name] = idx
		} else if col.Required {
			missing = append(missing, col.Name)
		}
	}

	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"source":            parseCtx.Source,
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")

		return errors.ParseError(errors.CodeMissingColumn, parseCtx.Source, parseCtx.LineNumber,
			strings.Join(missing, ", "), "", nil).
			WithSuggestion(fmt.Sprintf("Available headers: %s", strings.Join(parseCtx.Headers, ", ")))
	}

	bp.logger.WithFields(logger.Fields{
		"source":  parseCtx.Source,
		"columns": len(parseCtx.columns),
	}).Debug("Mapped CSV headers")
	return nil
}

// ReadRecord returns the next non-empty row. io.EOF marks the end of input.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "csv_parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				parseCtx.LineNumber++
			}
			return nil, err
		}
		parseCtx.LineNumber++

		if isEmptyRecord(record) {
			continue
		}

		for i, field := range record {
			if bp.config.MaxFieldSize > 0 && len(field) > bp.config.MaxFieldSize {
				return nil, &ParseError{
					Line:    parseCtx.LineNumber,
					Field:   fmt.Sprintf("field_%d", i),
					Value:   truncate(field, 50),
					Message: fmt.Sprintf("field exceeds maximum size of %d bytes", bp.config.MaxFieldSize),
				}
			}
			if !utf8.ValidString(field) {
				return nil, &ParseError{
					Line:    parseCtx.LineNumber,
					Field:   fmt.Sprintf("field_%d", i),
					Message: "invalid UTF-8 encoding",
				}
			}
		}
		return record, nil
	}
}

// Field returns the trimmed value of a column, or "" when the file lacks it or
// the row is short.
func (pc *ParseContext) Field(record []string, column string) string {
	idx, ok := pc.columns[column]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int           `json:"totalLines"`
	RecordsParsed int           `json:"recordsParsed"`
	RecordsValid  int           `json:"recordsValid"`
	InvalidDates  int           `json:"invalidDates"`
	ErrorCount    int           `json:"errorCount"`
	Errors        []*ParseError `json:"-"`
	maxErrors     int
}

// NewParseStats creates a new ParseStats keeping at most maxErrors samples
func NewParseStats(maxErrors int) *ParseStats {
	return &ParseStats{maxErrors: maxErrors}
}

// AddError counts a row error and keeps it while under the sample limit
func (ps *ParseStats) AddError(err *ParseError) {
	ps.ErrorCount++
	if len(ps.Errors) < ps.maxErrors {
		ps.Errors = append(ps.Errors, err)
	}
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid, %d without sale date), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.InvalidDates, ps.ErrorCount)
}

// GetSampleErrors returns a sample of the parsing errors for logging/debugging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}
