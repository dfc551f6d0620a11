package settlement

import (
	"strings"

	"golang-settlement-reconciler/internal/normalize"
)

// Category is the settlement schedule family of a transaction.
type Category int

const (
	CategoryGeneric Category = iota
	CategoryDebit
	CategoryCreditAtSight
	CategoryInstallment
	CategoryPrepaidDebit
	CategoryPrepaidCredit
)

// Categories lists every category in report order.
var Categories = []Category{
	CategoryDebit,
	CategoryCreditAtSight,
	CategoryInstallment,
	CategoryPrepaidDebit,
	CategoryPrepaidCredit,
	CategoryGeneric,
}

// String returns a string representation of the Category
func (c Category) String() string {
	switch c {
	case CategoryDebit:
		return "debit"
	case CategoryCreditAtSight:
		return "credit-at-sight"
	case CategoryInstallment:
		return "installment"
	case CategoryPrepaidDebit:
		return "prepaid-debit"
	case CategoryPrepaidCredit:
		return "prepaid-credit"
	default:
		return "generic"
	}
}

// MarshalText renders the category name in JSON and CSV output.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ClassificationRule assigns Category when the normalized modality contains every
// term in Terms. Terms are in normalize.Text form.
type ClassificationRule struct {
	Terms    []string
	Category Category
}

// classificationRules is evaluated top to bottom; the first rule whose terms all
// occur in the modality wins. Prepaid and installment entries come before the plain
// debit/credit ones because their modalities also contain those words.
var classificationRules = []ClassificationRule{
	{Terms: []string{"prepag", "debit"}, Category: CategoryPrepaidDebit},
	{Terms: []string{"prepaid", "debit"}, Category: CategoryPrepaidDebit},
	{Terms: []string{"prepag", "credit"}, Category: CategoryPrepaidCredit},
	{Terms: []string{"prepaid", "credit"}, Category: CategoryPrepaidCredit},
	{Terms: []string{"parcel"}, Category: CategoryInstallment},
	{Terms: []string{"installment"}, Category: CategoryInstallment},
	{Terms: []string{"debit"}, Category: CategoryDebit},
	{Terms: []string{"credit"}, Category: CategoryCreditAtSight},
}

// RegisterClassification adds a rule ahead of the built-in table. Call during
// start-up only.
func RegisterClassification(category Category, terms ...string) {
	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		if n := normalize.Text(term); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return
	}
	rule := ClassificationRule{Terms: normalized, Category: category}
	classificationRules = append([]ClassificationRule{rule}, classificationRules...)
}

// Classify maps a free-text modality to its category. Any transaction split into
// more than one installment is an installment regardless of its modality text.
func Classify(modality string, installmentCount int) Category {
	if installmentCount > 1 {
		return CategoryInstallment
	}
	return classifyText(normalize.Text(modality))
}

func classifyText(modality string) Category {
	if modality == "" {
		return CategoryGeneric
	}
	for _, rule := range classificationRules {
		if containsAll(modality, rule.Terms) {
			return rule.Category
		}
	}
	return CategoryGeneric
}

func containsAll(s string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(s, term) {
			return false
		}
	}
	return true
}
