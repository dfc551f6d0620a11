package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/matcher"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/reconciler"
	"golang-settlement-reconciler/internal/settlement"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
)

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{"default config", nil, false},
		{"valid config", DefaultReportConfig(), false},
		{"invalid format", &ReportConfig{Format: "xml"}, true},
		{"negative max items", &ReportConfig{Format: FormatConsole, MaxItems: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Errorf("expected generator but got nil")
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := tt.format.IsValid(); got != tt.valid {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tt.format, got, tt.valid)
		}
	}
}

func datePtr(t time.Time) *time.Time { return &t }

func samplePredictionReport() *reconciler.PredictionReport {
	saleDate := calendar.Date(2025, time.March, 11)
	settle := calendar.Date(2025, time.March, 12)

	sales := []models.Transaction{
		{
			MerchantID: "M1", Acquirer: "Cielo", Brand: "VISA", Modality: "Débito",
			TransactionRef: "100", SaleDate: saleDate,
			GrossAmount:             decimal.RequireFromString("100.00"),
			InstallmentCount:        1,
			FeeAmount:               decimal.NewNullDecimal(decimal.RequireFromString("1.00")),
			PredictedSettlementDate: datePtr(settle),
		},
		{
			MerchantID: "M1", Acquirer: "Cielo", Brand: "VISA", Modality: "Voucher",
			TransactionRef: "300", SaleDate: saleDate,
			GrossAmount:      decimal.RequireFromString("50.00"),
			InstallmentCount: 1,
		},
	}

	return &reconciler.PredictionReport{
		Sales: sales,
		Lines: []reconciler.PredictionLine{
			{
				TransactionRef: "100", SaleDate: "2025-03-11",
				Category: settlement.CategoryDebit, Outcome: settlement.OutcomePredicted,
				PredictedSettlementDate: datePtr(settle),
			},
			{
				TransactionRef: "300", SaleDate: "2025-03-11",
				Category: settlement.CategoryGeneric, Outcome: settlement.OutcomeNoRule,
			},
		},
		Stats: settlement.Stats{
			Total: 2, Predicted: 1, NoRule: 1,
			ByCategory: map[settlement.Category]int{settlement.CategoryDebit: 1, settlement.CategoryGeneric: 1},
		},
		Duplicates: []matcher.DuplicateGroup{
			{Key: matcher.IndexKey{SaleDate: "2025-03-11", Ref: "100"}, Brand: "visa", Sales: []*models.Transaction{&sales[0]}},
		},
		FeeRules:    1,
		ProcessedAt: time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC),
	}
}

func sampleReconciliationReports() []*reconciler.ReconciliationReport {
	saleDate := calendar.Date(2025, time.March, 11)
	matched := &models.Transaction{ID: "R1", MerchantID: "M1", TransactionRef: "100", SaleDate: saleDate, GrossAmount: decimal.RequireFromString("100.05")}
	unmatched := &models.Transaction{ID: "R2", MerchantID: "M1", TransactionRef: "999", SaleDate: saleDate, GrossAmount: decimal.RequireFromString("20.00")}

	return []*reconciler.ReconciliationReport{
		{
			MerchantID: "M1",
			Results: []*models.MatchResult{
				{
					ReceivableID: "R1", SaleID: "S1", Status: models.StatusMatched,
					PredictedSettlementDate: datePtr(calendar.Date(2025, time.March, 12)),
					AmountDifference:        decimal.NewNullDecimal(decimal.RequireFromString("0.05")),
					Receivable:              matched,
				},
				{ReceivableID: "R2", Status: models.StatusUnmatched, Receivable: unmatched},
			},
			Summary: matcher.ReconciliationSummary{
				TotalReceivables: 2, Matched: 1, Unmatched: 1, MonthsFetched: 1,
				TotalAmountMatched:   decimal.RequireFromString("100.05"),
				TotalAmountUnmatched: decimal.RequireFromString("20.00"),
			},
			ProcessedAt: time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestGeneratePredictionReport_Console(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	var buf bytes.Buffer
	if err := generator.GeneratePredictionReport(samplePredictionReport(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"SETTLEMENT PREDICTION REPORT",
		"Predicted:    1 (50.0%)",
		"No fee rule:  1 (50.0%)",
		"2025-03-12     1 sales  gross 100.00  fee 1.00",
		"POSSIBLE DUPLICATES (1)",
		"NOT PREDICTED (1)",
		"Ref: 300",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("console output missing %q\n%s", want, output)
		}
	}
}

func TestGeneratePredictionReport_CSV(t *testing.T) {
	generator, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVHeaders: true})
	var buf bytes.Buffer
	if err := generator.GeneratePredictionReport(samplePredictionReport(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	first := records[1]
	if first[4] != "100" || first[11] != "1.00" || first[12] != "2025-03-12" {
		t.Errorf("unexpected first row %v", first)
	}
	if records[2][12] != "" {
		t.Errorf("expected empty settlement date for unpredicted sale, got %q", records[2][12])
	}
}

func TestGenerateReconciliationReport_JSON(t *testing.T) {
	generator, _ := NewReportGenerator(&ReportConfig{Format: FormatJSON})
	var buf bytes.Buffer
	if err := generator.GenerateReconciliationReport(sampleReconciliationReports(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["merchantId"] != "M1" {
		t.Errorf("unexpected JSON %s", buf.String())
	}
	if !strings.Contains(buf.String(), string(models.StatusUnmatched)) {
		t.Errorf("expected statuses in JSON output")
	}
}

func TestGenerateReconciliationReport_ConsoleAndCSV(t *testing.T) {
	reports := sampleReconciliationReports()

	console, _ := NewReportGenerator(&ReportConfig{Format: FormatConsole, IncludeMatched: true, MaxItems: 10})
	var buf bytes.Buffer
	if err := console.GenerateReconciliationReport(reports, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()
	for _, want := range []string{
		"RECONCILIATION REPORT - MERCHANT M1",
		"Conciliado:    1 (50.0%)",
		"UNMATCHED RECEIVABLES (1)",
		"Receivable: R2, Ref: 999",
		"MATCHED RECEIVABLES (1)",
		"Sale: S1, Predicted: 2025-03-12",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("console output missing %q\n%s", want, output)
		}
	}

	csvGen, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ';', CSVHeaders: false})
	buf.Reset()
	if err := csvGen.GenerateReconciliationReport(reports, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 rows without header, got %d", len(lines))
	}
	if lines[0] != "M1;R1;100;2025-03-11;100.05;Conciliado;S1;2025-03-12;0.05" {
		t.Errorf("unexpected row %q", lines[0])
	}
}

func TestConsoleMaxItems(t *testing.T) {
	report := sampleReconciliationReports()[0]
	for i := 0; i < 5; i++ {
		report.Results = append(report.Results, &models.MatchResult{ReceivableID: "X", Status: models.StatusUnmatched})
	}

	generator, _ := NewReportGenerator(&ReportConfig{Format: FormatConsole, MaxItems: 2})
	var buf bytes.Buffer
	if err := generator.GenerateReconciliationReport([]*reconciler.ReconciliationReport{report}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "... and 4 more") {
		t.Errorf("expected truncation notice, got\n%s", buf.String())
	}
}

func TestNilReports(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	if err := generator.GeneratePredictionReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil prediction report")
	}
	if err := generator.GenerateReconciliationReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil reconciliation reports")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSafeReportGenerator(t *testing.T) {
	safe, err := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON}, logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := safe.GenerateReportSafely(samplePredictionReport(), &buf); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := safe.GenerateReportSafely(sampleReconciliationReports()[0], &buf); err != nil {
		t.Errorf("unexpected error for single report: %v", err)
	}

	if err := safe.GenerateReportSafely("not a report", &buf); err == nil {
		t.Error("expected error for unsupported report type")
	}
	if err := safe.GenerateReportSafely(nil, &buf); err == nil {
		t.Error("expected error for nil report")
	}
	if err := safe.GenerateReportSafely(samplePredictionReport(), nil); err == nil {
		t.Error("expected error for nil writer")
	}

	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "xml"}, nil); err == nil {
		t.Error("expected configuration error")
	}
}

func TestSafeReportGenerator_FormatFallbackFails(t *testing.T) {
	safe, _ := NewSafeReportGenerator(&ReportConfig{Format: FormatCSV}, logger.Nop())
	if err := safe.GenerateReportSafely(samplePredictionReport(), failingWriter{}); err == nil {
		t.Error("expected error when every write fails")
	}
}

func TestCreateOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.csv")
	file, err := CreateOutputFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	file.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %v", err)
	}

	if got := generateBackupPath("/tmp/out/report.csv"); got != "/tmp/out/report_backup.csv" {
		t.Errorf("generateBackupPath = %q", got)
	}
}
