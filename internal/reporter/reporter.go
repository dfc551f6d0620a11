// Package reporter renders prediction and reconciliation reports.
//
// Supported output formats:
//   - Console: Human-readable summary for terminal display
//   - JSON: Structured data format for programmatic consumption
//   - CSV: One row per sale or receivable for spreadsheet applications
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GeneratePredictionReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/reconciler"
	"golang-settlement-reconciler/internal/settlement"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// IncludeMatched lists matched receivables in console output
	IncludeMatched bool `json:"include_matched" mapstructure:"include_matched"`

	// MaxItems caps console lists; 0 means no limit
	MaxItems int `json:"max_items" mapstructure:"max_items"`

	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"-"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:         FormatConsole,
		IncludeMatched: false,
		MaxItems:       20,
		CSVDelimiter:   ',',
		CSVHeaders:     true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}
	if c.CSVDelimiter == 0 {
		c.CSVDelimiter = ','
	}
	return nil
}

// ReportGenerator renders reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

// GeneratePredictionReport writes a prediction report.
func (rg *ReportGenerator) GeneratePredictionReport(report *reconciler.PredictionReport, w io.Writer) error {
	if report == nil {
		return fmt.Errorf("prediction report cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(report, w)
	case FormatCSV:
		return rg.predictionCSV(report, w)
	default:
		return rg.predictionConsole(report, w)
	}
}

// GenerateReconciliationReport writes one report per merchant.
func (rg *ReportGenerator) GenerateReconciliationReport(reports []*reconciler.ReconciliationReport, w io.Writer) error {
	if reports == nil {
		return fmt.Errorf("reconciliation reports cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(reports, w)
	case FormatCSV:
		return rg.reconciliationCSV(reports, w)
	default:
		ew := &errWriter{w: w}
		for i, report := range reports {
			if i > 0 {
				fmt.Fprintln(ew)
			}
			rg.reconciliationConsole(report, ew)
		}
		return ew.err
	}
}

// errWriter keeps the first write error so console sections can be printed
// without checking every Fprintf.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

func writeJSON(v interface{}, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (rg *ReportGenerator) predictionConsole(report *reconciler.PredictionReport, out io.Writer) error {
	w := &errWriter{w: out}
	stats := report.Stats

	fmt.Fprintf(w, "SETTLEMENT PREDICTION REPORT\n")
	fmt.Fprintf(w, "Generated: %s\n", report.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Processing Duration: %v\n\n", report.Duration)

	fmt.Fprintf(w, "=== SUMMARY ===\n")
	fmt.Fprintf(w, "Sales:          %d\n", stats.Total)
	fmt.Fprintf(w, "  Predicted:    %d (%.1f%%)\n", stats.Predicted, percentage(stats.Predicted, stats.Total))
	fmt.Fprintf(w, "  No fee rule:  %d (%.1f%%)\n", stats.NoRule, percentage(stats.NoRule, stats.Total))
	fmt.Fprintf(w, "  Invalid date: %d (%.1f%%)\n", stats.InvalidDate, percentage(stats.InvalidDate, stats.Total))
	fmt.Fprintf(w, "Dropped:        %d\n", report.Preprocess.Dropped)
	fmt.Fprintf(w, "Fee rules:      %d\n", report.FeeRules)
	if report.Persisted > 0 {
		fmt.Fprintf(w, "Stored:         %d\n", report.Persisted)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "=== BY CATEGORY ===\n")
	for _, category := range settlement.Categories {
		if n := stats.ByCategory[category]; n > 0 {
			fmt.Fprintf(w, "%-16s %d\n", category.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "=== SETTLEMENT CALENDAR ===\n")
	totals := settlementTotals(report.Sales)
	for _, day := range totals {
		fmt.Fprintf(w, "%s  %4d sales  gross %s  fee %s\n", day.date, day.count, day.gross.StringFixed(2), day.fee.StringFixed(2))
	}
	fmt.Fprintln(w)

	if len(report.Duplicates) > 0 {
		fmt.Fprintf(w, "=== POSSIBLE DUPLICATES (%d) ===\n", len(report.Duplicates))
		for i, group := range report.Duplicates {
			if rg.limitReached(i, len(report.Duplicates), w) {
				break
			}
			fmt.Fprintf(w, "  %s ref %s %s: %d sales\n", group.Key.SaleDate, group.Key.Ref, group.Brand, len(group.Sales))
		}
		fmt.Fprintln(w)
	}

	var missing []reconciler.PredictionLine
	for _, line := range report.Lines {
		if line.Outcome != settlement.OutcomePredicted {
			missing = append(missing, line)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(w, "=== NOT PREDICTED (%d) ===\n", len(missing))
		for i, line := range missing {
			if rg.limitReached(i, len(missing), w) {
				break
			}
			fmt.Fprintf(w, "  %d. Ref: %s, Sale date: %s, Category: %s, Reason: %s\n",
				i+1, line.TransactionRef, orDash(line.SaleDate), line.Category, line.Outcome)
		}
	}
	return w.err
}

type dayTotal struct {
	date  string
	count int
	gross decimal.Decimal
	fee   decimal.Decimal
}

// settlementTotals sums predicted sales per settlement date, earliest first.
func settlementTotals(sales []models.Transaction) []dayTotal {
	byDate := make(map[string]*dayTotal)
	for i := range sales {
		tx := &sales[i]
		if tx.PredictedSettlementDate == nil {
			continue
		}
		key := calendar.FormatISO(*tx.PredictedSettlementDate)
		day, ok := byDate[key]
		if !ok {
			day = &dayTotal{date: key}
			byDate[key] = day
		}
		day.count++
		day.gross = day.gross.Add(tx.GrossAmount)
		if tx.FeeAmount.Valid {
			day.fee = day.fee.Add(tx.FeeAmount.Decimal)
		}
	}

	out := make([]dayTotal, 0, len(byDate))
	for _, day := range byDate {
		out = append(out, *day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date < out[j].date })
	return out
}

func (rg *ReportGenerator) predictionCSV(report *reconciler.PredictionReport, w io.Writer) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write([]string{
			"merchant_id", "acquirer", "brand", "modality", "transaction_ref", "sale_date",
			"gross_amount", "installment_count", "category", "outcome", "installment",
			"fee_amount", "predicted_settlement_date",
		}); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for i, line := range report.Lines {
		tx := report.Sales[i]
		record := []string{
			tx.MerchantID,
			tx.Acquirer,
			tx.Brand,
			tx.Modality,
			tx.TransactionRef,
			line.SaleDate,
			tx.GrossAmount.StringFixed(2),
			strconv.Itoa(tx.InstallmentCount),
			line.Category.String(),
			line.Outcome.String(),
			optionalInt(line.Installment),
			optionalDecimal(tx.FeeAmount),
			optionalDate(line.PredictedSettlementDate),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write prediction record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) reconciliationConsole(report *reconciler.ReconciliationReport, w io.Writer) {
	s := report.Summary

	fmt.Fprintf(w, "RECONCILIATION REPORT - MERCHANT %s\n", report.MerchantID)
	fmt.Fprintf(w, "Generated: %s\n", report.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Processing Duration: %v\n\n", report.Duration)

	fmt.Fprintf(w, "=== SUMMARY ===\n")
	fmt.Fprintf(w, "Receivables:     %d\n", s.TotalReceivables)
	fmt.Fprintf(w, "  %-14s %d (%.1f%%)\n", string(models.StatusMatched)+":", s.Matched, s.MatchRate())
	fmt.Fprintf(w, "  %-14s %d (%.1f%%)\n", string(models.StatusUnmatched)+":", s.Unmatched, percentage(s.Unmatched, s.TotalReceivables))
	if s.Ambiguous > 0 {
		fmt.Fprintf(w, "  Ambiguous:     %d\n", s.Ambiguous)
	}
	fmt.Fprintf(w, "Months fetched:  %d\n", s.MonthsFetched)
	if s.FetchFailures > 0 {
		fmt.Fprintf(w, "Fetch failures:  %d\n", s.FetchFailures)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "=== FINANCIAL SUMMARY ===\n")
	fmt.Fprintf(w, "Matched amount:   %s\n", s.TotalAmountMatched.StringFixed(2))
	fmt.Fprintf(w, "Unmatched amount: %s\n", s.TotalAmountUnmatched.StringFixed(2))
	fmt.Fprintln(w)

	if report.Audit != nil {
		a := report.Audit
		fmt.Fprintf(w, "=== AUDIT ===\n")
		fmt.Fprintf(w, "Updated: %d  Skipped: %d  Errored: %d  (%d update calls)\n", a.Updated, a.Skipped, a.Errored, a.UpdateCalls)
		for _, err := range a.Errors {
			fmt.Fprintf(w, "  - %v\n", err)
		}
		fmt.Fprintln(w)
	}

	rg.printResults(w, "UNMATCHED RECEIVABLES", report.Results, false)
	if rg.config.IncludeMatched {
		rg.printResults(w, "MATCHED RECEIVABLES", report.Results, true)
	}
}

func (rg *ReportGenerator) printResults(w io.Writer, title string, results []*models.MatchResult, matched bool) {
	var selected []*models.MatchResult
	for _, r := range results {
		if r.Matched() == matched {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return
	}

	fmt.Fprintf(w, "=== %s (%d) ===\n", title, len(selected))
	for i, r := range selected {
		if rg.limitReached(i, len(selected), w) {
			break
		}
		line := fmt.Sprintf("  %d. Receivable: %s", i+1, r.ReceivableID)
		if r.Receivable != nil {
			line += fmt.Sprintf(", Ref: %s, Sale date: %s, Amount: %s",
				r.Receivable.TransactionRef, orDash(calendar.FormatISO(r.Receivable.SaleDate)), r.Receivable.GrossAmount.StringFixed(2))
		}
		if matched {
			line += fmt.Sprintf(", Sale: %s, Predicted: %s", r.SaleID, optionalDate(r.PredictedSettlementDate))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func (rg *ReportGenerator) reconciliationCSV(reports []*reconciler.ReconciliationReport, w io.Writer) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write([]string{
			"merchant_id", "receivable_id", "transaction_ref", "sale_date", "gross_amount",
			"status", "sale_id", "predicted_settlement_date", "amount_difference",
		}); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, report := range reports {
		for _, r := range report.Results {
			var ref, saleDate, gross string
			if r.Receivable != nil {
				ref = r.Receivable.TransactionRef
				saleDate = calendar.FormatISO(r.Receivable.SaleDate)
				gross = r.Receivable.GrossAmount.StringFixed(2)
			}
			record := []string{
				report.MerchantID,
				r.ReceivableID,
				ref,
				saleDate,
				gross,
				string(r.Status),
				r.SaleID,
				optionalDate(r.PredictedSettlementDate),
				optionalDecimal(r.AmountDifference),
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write result record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// limitReached prints the overflow note and reports true once MaxItems rows
// have been printed.
func (rg *ReportGenerator) limitReached(i, total int, w io.Writer) bool {
	if rg.config.MaxItems > 0 && i >= rg.config.MaxItems {
		fmt.Fprintf(w, "  ... and %d more\n", total-i)
		return true
	}
	return false
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func optionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return calendar.FormatISO(*t)
}

func optionalDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

func optionalInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
