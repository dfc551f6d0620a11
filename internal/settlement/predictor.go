// Package settlement predicts the date a card transaction is deposited, from its
// modality, its fee rule and the business-day calendar.
package settlement

import (
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/feerule"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	debitDays         = 1
	creditAtSightDays = 31
	installmentDays   = 30

	prepaidDebitBusinessDays  = 1
	prepaidCreditBusinessDays = 2
)

// Outcome tells why a prediction does or does not carry a date.
type Outcome int

const (
	OutcomePredicted Outcome = iota
	OutcomeNoRule
	OutcomeInvalidDate
)

// String returns a string representation of the Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomePredicted:
		return "predicted"
	case OutcomeNoRule:
		return "no_rule"
	case OutcomeInvalidDate:
		return "invalid_date"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome name in JSON output.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// RuleFinder resolves the fee rule for a transaction.
type RuleFinder interface {
	Resolve(tx *models.Transaction) (*models.FeeRule, feerule.Tier)
}

// Prediction is the result of predicting one transaction.
type Prediction struct {
	Category    Category
	Outcome     Outcome
	Date        *time.Time
	Rule        *models.FeeRule
	Tier        feerule.Tier
	Installment int // 1-based; 0 when the category has no installments
	FeeAmount   decimal.NullDecimal
}

// Predicted reports whether a date was produced.
func (p Prediction) Predicted() bool {
	return p.Outcome == OutcomePredicted
}

// Predictor computes settlement dates. It holds no per-run state; installment
// numbering lives in the Sequencer passed to Predict.
type Predictor struct {
	rules  RuleFinder
	logger logger.Logger
}

// NewPredictor creates a predictor backed by the given rule lookup.
func NewPredictor(rules RuleFinder) *Predictor {
	return &Predictor{
		rules:  rules,
		logger: logger.GetGlobalLogger().WithComponent("settlement"),
	}
}

// Predict computes the settlement date of tx. Installment transactions take their
// parcel number from seq; a nil seq treats every record as the first parcel. Every
// installment record with a sale date consumes a parcel number, even one that then
// gets no date for lack of a fee rule. Transactions without a sale date or without a
// fee rule get no date.
func (p *Predictor) Predict(tx *models.Transaction, seq *Sequencer) Prediction {
	pred := Prediction{Category: Classify(tx.Modality, tx.InstallmentCount)}

	if !tx.HasSaleDate() {
		pred.Outcome = OutcomeInvalidDate
		p.logger.WithFields(logger.Fields{
			"merchant_id":     tx.MerchantID,
			"transaction_ref": tx.TransactionRef,
		}).Debug("Skipping prediction for transaction without a valid sale date")
		return pred
	}

	if pred.Category == CategoryInstallment {
		idx := 0
		if seq != nil {
			idx = seq.NextIndex(NewSequenceKey(tx.TransactionRef, tx.SaleDate))
		}
		pred.Installment = idx + 1
	}

	if p.rules != nil {
		pred.Rule, pred.Tier = p.rules.Resolve(tx)
	}
	if pred.Rule == nil {
		pred.Outcome = OutcomeNoRule
		p.logger.WithFields(logger.Fields{
			"merchant_id":     tx.MerchantID,
			"acquirer":        tx.Acquirer,
			"brand":           tx.Brand,
			"modality":        tx.Modality,
			"transaction_ref": tx.TransactionRef,
		}).Warn("No fee rule found, settlement date not predicted")
		return pred
	}

	pred.FeeAmount = decimal.NewNullDecimal(pred.Rule.FeeFor(tx.GrossAmount))

	var date time.Time
	if pred.Category == CategoryInstallment {
		date = installmentDate(tx.SaleDate, pred.Installment)
	} else {
		date = singleDate(pred.Category, tx.SaleDate, pred.Rule.CutoffDays)
	}

	pred.Outcome = OutcomePredicted
	pred.Date = &date
	return pred
}

// Schedule returns the settlement date of every installment of tx without touching
// any sequencer. Single-payment categories return one date.
func (p *Predictor) Schedule(tx *models.Transaction) ([]time.Time, Outcome) {
	if !tx.HasSaleDate() {
		return nil, OutcomeInvalidDate
	}
	var rule *models.FeeRule
	if p.rules != nil {
		rule, _ = p.rules.Resolve(tx)
	}
	if rule == nil {
		return nil, OutcomeNoRule
	}

	category := Classify(tx.Modality, tx.InstallmentCount)
	if category != CategoryInstallment {
		return []time.Time{singleDate(category, tx.SaleDate, rule.CutoffDays)}, OutcomePredicted
	}

	n := tx.Installments()
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = installmentDate(tx.SaleDate, i+1)
	}
	return dates, OutcomePredicted
}

func singleDate(category Category, saleDate time.Time, cutoffDays int) time.Time {
	switch category {
	case CategoryDebit:
		return calendar.NextBusinessDay(calendar.AddCalendarDays(saleDate, debitDays))
	case CategoryCreditAtSight:
		return calendar.NextBusinessDay(calendar.AddCalendarDays(saleDate, creditAtSightDays))
	case CategoryPrepaidDebit:
		return calendar.AddBusinessDays(saleDate, prepaidDebitBusinessDays)
	case CategoryPrepaidCredit:
		return calendar.AddBusinessDays(saleDate, prepaidCreditBusinessDays)
	default:
		return lotDate(saleDate, cutoffDays)
	}
}

// installmentDate is the date of the 1-based parcel n.
func installmentDate(saleDate time.Time, n int) time.Time {
	return calendar.NextBusinessDay(calendar.AddCalendarDays(saleDate, installmentDays*n))
}

// lotDate pools the sale into the lot closing at its month end. The lot is due
// cutoffDays after closing and is paid on the first business day of the month after
// the due date's month.
func lotDate(saleDate time.Time, cutoffDays int) time.Time {
	lotClose := calendar.EndOfMonth(saleDate)
	due := calendar.AddCalendarDays(lotClose, cutoffDays)
	return calendar.FirstBusinessDayOfNextMonth(due)
}
