package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"golang-settlement-reconciler/internal/calendar"

	"github.com/shopspring/decimal"
)

func TestTransaction_Validate(t *testing.T) {
	tests := []struct {
		name        string
		transaction Transaction
		wantError   bool
	}{
		{
			name:        "Valid transaction",
			transaction: Transaction{MerchantID: "M1", TransactionRef: "00045", GrossAmount: decimal.RequireFromString("100.00")},
			wantError:   false,
		},
		{
			name:        "Zero amount is allowed",
			transaction: Transaction{MerchantID: "M1", TransactionRef: "1"},
			wantError:   false,
		},
		{
			name:        "Missing merchant",
			transaction: Transaction{TransactionRef: "1"},
			wantError:   true,
		},
		{
			name:        "Blank reference",
			transaction: Transaction{MerchantID: "M1", TransactionRef: "  "},
			wantError:   true,
		},
		{
			name:        "Negative installments",
			transaction: Transaction{MerchantID: "M1", TransactionRef: "1", InstallmentCount: -2},
			wantError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.transaction.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Transaction.Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestTransaction_HelperMethods(t *testing.T) {
	tx := Transaction{TransactionRef: "NSU 000123", Brand: "Mastercard Débito"}

	if got := tx.SanitizedRef(); got != "123" {
		t.Errorf("SanitizedRef() = %q, want 123", got)
	}
	if got := tx.CanonicalBrand(); got != "MASTER" {
		t.Errorf("CanonicalBrand() = %q, want MASTER", got)
	}
	if got := tx.Installments(); got != 1 {
		t.Errorf("Installments() = %d, want 1", got)
	}
	if tx.HasSaleDate() {
		t.Error("expected zero sale date to be reported as missing")
	}

	tx.InstallmentCount = 3
	if got := tx.Installments(); got != 3 {
		t.Errorf("Installments() = %d, want 3", got)
	}
}

func TestTransaction_JSONDates(t *testing.T) {
	predicted := calendar.Date(2025, time.March, 11)
	tx := Transaction{
		MerchantID:              "M1",
		TransactionRef:          "45",
		SaleDate:                calendar.Date(2025, time.March, 10),
		GrossAmount:             decimal.RequireFromString("100.00"),
		PredictedSettlementDate: &predicted,
	}

	data, err := json.Marshal(&tx)
	if err != nil {
		t.Fatalf("Failed to marshal transaction: %v", err)
	}

	out := string(data)
	if !strings.Contains(out, `"saleDate":"2025-03-10"`) {
		t.Errorf("expected ISO sale date in %s", out)
	}
	if !strings.Contains(out, `"predictedSettlementDate":"2025-03-11"`) {
		t.Errorf("expected ISO predicted date in %s", out)
	}
	if !strings.Contains(out, `"feeAmount":null`) {
		t.Errorf("expected null fee amount in %s", out)
	}
	if strings.Contains(out, `"settlementDate"`) {
		t.Errorf("unexpected settlement date in %s", out)
	}
}

func TestTransaction_UnmarshalJSON(t *testing.T) {
	input := `{"merchantId":"M1","transactionRef":"00045","saleDate":"10/03/2025",
		"grossAmount":100.03,"brand":"Visa","settlementDate":"2025-03-11"}`

	var tx Transaction
	if err := json.Unmarshal([]byte(input), &tx); err != nil {
		t.Fatalf("Failed to unmarshal transaction: %v", err)
	}

	if !tx.SaleDate.Equal(calendar.Date(2025, time.March, 10)) {
		t.Errorf("unexpected sale date %s", calendar.FormatISO(tx.SaleDate))
	}
	if !tx.GrossAmount.Equal(decimal.RequireFromString("100.03")) {
		t.Errorf("unexpected gross amount %s", tx.GrossAmount)
	}
	if tx.SettlementDate == nil || !tx.SettlementDate.Equal(calendar.Date(2025, time.March, 11)) {
		t.Errorf("unexpected settlement date %v", tx.SettlementDate)
	}
	if tx.PredictedSettlementDate != nil {
		t.Errorf("expected no predicted date, got %v", tx.PredictedSettlementDate)
	}
}

func TestTransaction_UnmarshalJSONBadDate(t *testing.T) {
	var tx Transaction
	if err := json.Unmarshal([]byte(`{"merchantId":"M1","transactionRef":"1","saleDate":"yesterday"}`), &tx); err != nil {
		t.Fatalf("bad date should not reject the record: %v", err)
	}
	if tx.HasSaleDate() {
		t.Errorf("expected zero sale date, got %s", tx.SaleDate)
	}
}

func TestTransaction_UnmarshalJSONUnknownField(t *testing.T) {
	var tx Transaction
	err := json.Unmarshal([]byte(`{"merchantId":"M1","transactionRef":"1","saleDat":"2025-03-10","grossAmount":"10"}`), &tx)
	if err == nil {
		t.Fatal("expected misspelled field to be rejected")
	}
	if !strings.Contains(err.Error(), "saleDat") {
		t.Errorf("expected error to name the field, got %v", err)
	}
}

func TestFeeRule_Validate(t *testing.T) {
	tests := []struct {
		name      string
		rule      FeeRule
		wantError bool
	}{
		{"Valid rule", FeeRule{Modality: "Crédito", FeePercent: decimal.RequireFromString("2.5"), CutoffDays: 30}, false},
		{"Missing modality", FeeRule{FeePercent: decimal.RequireFromString("2.5")}, true},
		{"Negative cutoff", FeeRule{Modality: "Débito", CutoffDays: -1}, true},
		{"Negative percent", FeeRule{Modality: "Débito", FeePercent: decimal.RequireFromString("-1")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("FeeRule.Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestFeeRule_FeeFor(t *testing.T) {
	rule := FeeRule{FeePercent: decimal.RequireFromString("1.99")}

	got := rule.FeeFor(decimal.RequireFromString("250.00"))
	if !got.Equal(decimal.RequireFromString("4.98")) {
		t.Errorf("FeeFor(250.00) = %s, want 4.98", got)
	}

	got = rule.FeeFor(decimal.RequireFromString("-100.00"))
	if !got.Equal(decimal.RequireFromString("-1.99")) {
		t.Errorf("FeeFor(-100.00) = %s, want -1.99", got)
	}
}

func TestMatchStatus_IsValid(t *testing.T) {
	if !StatusMatched.IsValid() || !StatusUnmatched.IsValid() {
		t.Error("expected known statuses to be valid")
	}
	if MatchStatus("Pendente").IsValid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestMatchResult_MarshalJSON(t *testing.T) {
	unmatched := MatchResult{ReceivableID: "R1", Status: StatusUnmatched}
	data, err := json.Marshal(&unmatched)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"predictedSettlementDate":null`) {
		t.Errorf("expected null prediction in %s", data)
	}
	if !strings.Contains(string(data), `"status":"Não conciliado"`) {
		t.Errorf("expected status label in %s", data)
	}

	d := calendar.Date(2025, time.March, 11)
	matched := MatchResult{ReceivableID: "R1", SaleID: "S1", Status: StatusMatched, PredictedSettlementDate: &d}
	data, err = json.Marshal(&matched)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"predictedSettlementDate":"2025-03-11"`) {
		t.Errorf("expected ISO prediction in %s", data)
	}
	if !matched.Matched() {
		t.Error("expected matched result")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input       string
		expected    string
		expectError bool
	}{
		{"100.50", "100.50", false},
		{"-100.50", "-100.50", false},
		{"1,234.56", "1234.56", false},
		{"1.234,56", "1234.56", false},
		{"R$ 1.234,56", "1234.56", false},
		{"12,5", "12.5", false},
		{"1.234.567", "1234567", false},
		{"1,234,567", "1234567", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseAmount(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error for input %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !result.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestCompareAmountsWithTolerance(t *testing.T) {
	tol := decimal.RequireFromString("0.10")
	if !CompareAmountsWithTolerance(decimal.RequireFromString("100.00"), decimal.RequireFromString("100.10"), tol) {
		t.Error("expected boundary difference to be within tolerance")
	}
	if CompareAmountsWithTolerance(decimal.RequireFromString("100.00"), decimal.RequireFromString("100.11"), tol) {
		t.Error("expected difference above tolerance to fail")
	}
}
