package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/normalize"

	"github.com/shopspring/decimal"
)

// Transaction is a card sale or a bank receivable. Both share one shape; only
// receivables carry SettlementDate.
type Transaction struct {
	ID                      string              `json:"id,omitempty"`
	MerchantID              string              `json:"merchantId"`
	MatrixID                string              `json:"matrixId,omitempty"`
	Acquirer                string              `json:"acquirer"`
	Brand                   string              `json:"brand"`
	Modality                string              `json:"modality"`
	TransactionRef          string              `json:"transactionRef"`
	SaleDate                time.Time           `json:"saleDate"`
	GrossAmount             decimal.Decimal     `json:"grossAmount"`
	NetAmount               decimal.Decimal     `json:"netAmount"`
	InstallmentCount        int                 `json:"installmentCount"`
	FeeAmount               decimal.NullDecimal `json:"feeAmount"`
	PredictedSettlementDate *time.Time          `json:"predictedSettlementDate,omitempty"`
	SettlementDate          *time.Time          `json:"settlementDate,omitempty"`
	Status                  MatchStatus         `json:"status,omitempty"`
}

// Validate checks the fields every record needs to be predicted or matched. Amounts
// are signed and may be zero; an unknown sale date is tolerated and handled
// downstream.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.MerchantID) == "" {
		return fmt.Errorf("merchant id cannot be empty")
	}
	if strings.TrimSpace(t.TransactionRef) == "" {
		return fmt.Errorf("transaction reference cannot be empty")
	}
	if t.InstallmentCount < 0 {
		return fmt.Errorf("installment count cannot be negative: %d", t.InstallmentCount)
	}
	return nil
}

// Installments returns InstallmentCount, treating 0 as a single payment.
func (t *Transaction) Installments() int {
	if t.InstallmentCount < 1 {
		return 1
	}
	return t.InstallmentCount
}

// HasSaleDate reports whether the sale date was parsed.
func (t *Transaction) HasSaleDate() bool {
	return !t.SaleDate.IsZero()
}

// SanitizedRef returns the digit-only reference used as a join key.
func (t *Transaction) SanitizedRef() string {
	return normalize.Ref(t.TransactionRef)
}

// CanonicalBrand returns the card network name.
func (t *Transaction) CanonicalBrand() string {
	return normalize.Brand(t.Brand)
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{Ref: %s, Merchant: %s, Acquirer: %s, Brand: %s, Gross: %s, Date: %s}",
		t.TransactionRef, t.MerchantID, t.Acquirer, t.Brand, t.GrossAmount.String(), calendar.FormatISO(t.SaleDate))
}

// MarshalJSON renders dates as YYYY-MM-DD.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	type Alias Transaction
	return json.Marshal(&struct {
		SaleDate                string  `json:"saleDate"`
		PredictedSettlementDate *string `json:"predictedSettlementDate"`
		SettlementDate          *string `json:"settlementDate,omitempty"`
		*Alias
	}{
		SaleDate:                calendar.FormatISO(t.SaleDate),
		PredictedSettlementDate: formatOptional(t.PredictedSettlementDate),
		SettlementDate:          formatOptional(t.SettlementDate),
		Alias:                   (*Alias)(t),
	})
}

// UnmarshalJSON accepts ISO and DD/MM/YYYY dates. An unparseable sale date leaves
// SaleDate zero instead of rejecting the record. Unknown fields are rejected.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type Alias Transaction
	aux := &struct {
		SaleDate                string `json:"saleDate"`
		PredictedSettlementDate string `json:"predictedSettlementDate"`
		SettlementDate          string `json:"settlementDate"`
		*Alias
	}{
		Alias: (*Alias)(t),
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(aux); err != nil {
		return err
	}

	t.SaleDate = time.Time{}
	if d, err := calendar.ParseDate(aux.SaleDate); err == nil {
		t.SaleDate = d
	}
	t.PredictedSettlementDate = parseOptional(aux.PredictedSettlementDate)
	t.SettlementDate = parseOptional(aux.SettlementDate)

	return nil
}

func formatOptional(d *time.Time) *string {
	if d == nil {
		return nil
	}
	s := calendar.FormatISO(*d)
	return &s
}

func parseOptional(s string) *time.Time {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	d, err := calendar.ParseDate(s)
	if err != nil {
		return nil
	}
	return &d
}

// FeeRule is a registered MDR rate and settlement cutoff for one merchant,
// acquirer, brand and modality.
type FeeRule struct {
	ID               int64           `json:"id,omitempty"`
	MerchantID       string          `json:"merchantId"`
	Acquirer         string          `json:"acquirer"`
	Brand            string          `json:"brand"`
	Modality         string          `json:"modality"`
	InstallmentCount int             `json:"installmentCount"`
	FeePercent       decimal.Decimal `json:"feePercent"`
	CutoffDays       int             `json:"cutoffDays"`
}

// Validate performs basic validation on the FeeRule
func (r *FeeRule) Validate() error {
	if strings.TrimSpace(r.Modality) == "" {
		return fmt.Errorf("fee rule modality cannot be empty")
	}
	if r.CutoffDays < 0 {
		return fmt.Errorf("cutoff days cannot be negative: %d", r.CutoffDays)
	}
	if r.FeePercent.IsNegative() {
		return fmt.Errorf("fee percent cannot be negative: %s", r.FeePercent.String())
	}
	return nil
}

// FeeFor applies the rule's percentage to a gross amount, rounded to cents.
func (r *FeeRule) FeeFor(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(r.FeePercent).Div(decimal.NewFromInt(100)).Round(2)
}

// String returns a string representation of the FeeRule
func (r *FeeRule) String() string {
	return fmt.Sprintf("FeeRule{Merchant: %s, Acquirer: %s, Brand: %s, Modality: %s, Fee: %s%%, Cutoff: %dd}",
		r.MerchantID, r.Acquirer, r.Brand, r.Modality, r.FeePercent.String(), r.CutoffDays)
}

// MatchStatus is the reconciliation label written back to sale records.
type MatchStatus string

const (
	StatusMatched   MatchStatus = "Conciliado"
	StatusUnmatched MatchStatus = "Não conciliado"
)

// IsValid checks if the status is one of the known labels
func (s MatchStatus) IsValid() bool {
	return s == StatusMatched || s == StatusUnmatched
}

// MatchResult is the reconciliation outcome for one receivable.
type MatchResult struct {
	ReceivableID            string              `json:"receivableId"`
	SaleID                  string              `json:"saleId,omitempty"`
	Status                  MatchStatus         `json:"status"`
	PredictedSettlementDate *time.Time          `json:"predictedSettlementDate"`
	MatchedGross            decimal.NullDecimal `json:"matchedGross"`
	AmountDifference        decimal.NullDecimal `json:"amountDifference"`

	Receivable *Transaction `json:"-"`
	Sale       *Transaction `json:"-"`
}

// Matched reports whether a sale was selected.
func (m *MatchResult) Matched() bool {
	return m.Status == StatusMatched
}

// MarshalJSON renders the carried-forward prediction as YYYY-MM-DD.
func (m *MatchResult) MarshalJSON() ([]byte, error) {
	type Alias MatchResult
	return json.Marshal(&struct {
		PredictedSettlementDate *string `json:"predictedSettlementDate"`
		*Alias
	}{
		PredictedSettlementDate: formatOptional(m.PredictedSettlementDate),
		Alias:                   (*Alias)(m),
	})
}

// ParseAmount parses a currency amount in either "1234.56", "1,234.56" or the
// Brazilian "R$ 1.234,56" form.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
