package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"
)

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "valid.csv")
	if err := os.WriteFile(validFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{name: "valid file", filePath: validFile},
		{name: "empty path", filePath: "", expectError: true},
		{name: "non-existent file", filePath: "/non/existent/file.csv", expectError: true},
		{name: "directory instead of file", filePath: tmpDir, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateOutputFormat(t *testing.T) {
	tests := []struct {
		format      string
		expectError bool
	}{
		{format: ""},
		{format: "console"},
		{format: "json"},
		{format: "csv"},
		{format: "xml", expectError: true},
		{format: "JSON", expectError: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("format_%q", tt.format), func(t *testing.T) {
			err := validateOutputFormat(tt.format)
			if tt.expectError {
				reconcilerErr, ok := errors.AsReconcilerError(err)
				if !ok || reconcilerErr.Category != errors.CategoryValidation {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFormatValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		samples  []string
		contains []string
		empty    bool
	}{
		{name: "no errors", empty: true},
		{
			name:     "single error",
			total:    1,
			samples:  []string{"line 2: invalid amount"},
			contains: []string{"Validation error: line 2: invalid amount"},
		},
		{
			name:     "truncated samples",
			total:    5,
			samples:  []string{"line 2: a", "line 3: b"},
			contains: []string{"Found 5 validation errors:", "  1. line 2: a", "  2. line 3: b", "... and 3 more errors"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatValidationErrors(tt.total, tt.samples)
			if tt.empty {
				if got != "" {
					t.Errorf("expected empty output, got %q", got)
				}
				return
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("expected %q in:\n%s", want, got)
				}
			}
		})
	}
}

func TestCLIErrorHandler_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		output   string
	}{
		{name: "nil", err: nil, expected: 0},
		{
			name:     "file error",
			err:      errors.FileError(errors.CodeFileNotFound, "vendas.csv", os.ErrNotExist),
			expected: 2,
			output:   "File error help",
		},
		{
			name:     "validation error",
			err:      errors.ValidationError(errors.CodeInvalidData, "output-format", "xml", nil),
			expected: 3,
			output:   "Validation error help",
		},
		{
			name:     "configuration error",
			err:      errors.ConfigurationError(errors.CodeInvalidConfig, "matching.batch_size", 0, nil),
			expected: 4,
			output:   "SETTLEMENT_*",
		},
		{
			name:     "storage error",
			err:      errors.StorageError(errors.CodeFetchFailed, "sales_m1", fmt.Errorf("locked")),
			expected: 6,
			output:   "Storage error help",
		},
		{
			name:     "generic not found",
			err:      fmt.Errorf("open x.csv: no such file or directory"),
			expected: 2,
			output:   "File not found",
		},
		{
			name:     "generic error",
			err:      fmt.Errorf("boom"),
			expected: 1,
			output:   "Error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := &CLIErrorHandler{logger: logger.Nop(), out: &out}

			if code := h.HandleError(tt.err); code != tt.expected {
				t.Errorf("expected exit code %d, got %d", tt.expected, code)
			}
			if tt.output != "" && !strings.Contains(out.String(), tt.output) {
				t.Errorf("expected %q in output:\n%s", tt.output, out.String())
			}
		})
	}
}

const cliFeeRules = `modality;fee_percent;cutoff_days
Débito;1,00;0
Crédito à Vista;2,50;0
`

const cliSales = `merchant_id;acquirer;brand;modality;nsu;data_venda;valor_bruto
M1;Cielo;VISA;Débito;100;11/03/2025;100,00
M1;Cielo;MASTER;Crédito à Vista;101;11/03/2025;250,00
`

const cliReceivables = `estabelecimento,adquirente,bandeira,nsu,data_venda,valor_bruto,data_pagamento
M1,Cielo,Visa,100,2025-03-11,100.00,2025-03-12
M1,Cielo,Elo,999,2025-03-11,42.00,2025-03-12
`

func writeCLIFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestPredictThenReconcileCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")
	predictionFile := filepath.Join(dir, "out", "predictions.json")
	reportFile := filepath.Join(dir, "out", "report.csv")

	rootCmd.SetArgs([]string{
		"predict",
		"--db", dbPath,
		"--sales", writeCLIFile(t, dir, "vendas.csv", cliSales),
		"--fee-rules", writeCLIFile(t, dir, "taxas.csv", cliFeeRules),
		"--output-format", "json",
		"--output-file", predictionFile,
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	predictions, err := os.ReadFile(predictionFile)
	if err != nil {
		t.Fatalf("prediction report not written: %v", err)
	}
	if !strings.Contains(string(predictions), `"predictions"`) {
		t.Errorf("unexpected prediction report:\n%s", predictions)
	}

	rootCmd.SetArgs([]string{
		"reconcile",
		"--db", dbPath,
		"--receivables", writeCLIFile(t, dir, "recebiveis.csv", cliReceivables),
		"--merchant", "M1",
		"--output-format", "csv",
		"--output-file", reportFile,
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	report, err := os.ReadFile(reportFile)
	if err != nil {
		t.Fatalf("reconciliation report not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(report)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d:\n%s", len(lines), report)
	}
	if !strings.HasPrefix(lines[0], "merchant_id,receivable_id,transaction_ref") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(string(report), "Conciliado") {
		t.Errorf("expected a matched row in:\n%s", report)
	}
}

func TestReconcileCommand_MissingReceivables(t *testing.T) {
	rootCmd.SetArgs([]string{
		"reconcile",
		"--db", filepath.Join(t.TempDir(), "store.db"),
		"--receivables", "/non/existent/recebiveis.csv",
	})

	err := rootCmd.Execute()
	reconcilerErr, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("expected reconciler error, got %v", err)
	}
	if reconcilerErr.GetExitCode() != 2 {
		t.Errorf("expected file exit code 2, got %d", reconcilerErr.GetExitCode())
	}
}
