// Package matcher pairs bank receivables with the card sales that produced them.
//
// Sales are kept in a SaleIndex keyed by (sale date, sanitized transaction
// reference). The index starts with whatever sales the caller already has and pulls
// further months from storage on demand, fetching each (year, month) at most once.
//
// For every receivable the MatchingEngine looks up candidates in the index and picks
// the first one that:
//   - has a compatible card brand (equal after canonicalization, or either empty)
//   - has a gross amount within max(MinTolerance, |gross| * ToleranceRatio)
//
// Candidates are not ranked: encounter order decides between several that qualify.
//
// Example usage:
//
//	index := matcher.NewSaleIndex("M1", store)
//	index.IndexSales(sales)
//
//	engine := matcher.NewMatchingEngine(matcher.DefaultMatchingConfig(), index)
//	result := engine.Reconcile(ctx, receivables)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MatchingConfig holds the tolerances and batching of a reconciliation run.
type MatchingConfig struct {
	// BatchSize is the number of receivables processed per step
	BatchSize int `json:"batch_size" mapstructure:"batch_size"`

	// MinTolerance is the smallest accepted amount difference
	MinTolerance decimal.Decimal `json:"min_tolerance" mapstructure:"min_tolerance"`

	// ToleranceRatio scales the accepted difference with the receivable's gross amount
	ToleranceRatio decimal.Decimal `json:"tolerance_ratio" mapstructure:"tolerance_ratio"`

	// FallbackMonths are month offsets from the receivable's sale month fetched, in
	// order, when the index has no candidates
	FallbackMonths []int `json:"fallback_months" mapstructure:"fallback_months"`
}

// DefaultMatchingConfig returns a configuration with the standard tolerances
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		BatchSize:      1000,
		MinTolerance:   decimal.RequireFromString("0.10"),
		ToleranceRatio: decimal.RequireFromString("0.001"),
		FallbackMonths: []int{0, -1, 1},
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %d", mc.BatchSize)
	}

	if mc.MinTolerance.IsNegative() {
		return fmt.Errorf("min tolerance cannot be negative: %s", mc.MinTolerance.String())
	}

	if mc.ToleranceRatio.IsNegative() || mc.ToleranceRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("tolerance ratio must be between 0 and 1: %s", mc.ToleranceRatio.String())
	}

	seen := make(map[int]bool, len(mc.FallbackMonths))
	for _, offset := range mc.FallbackMonths {
		if seen[offset] {
			return fmt.Errorf("duplicate fallback month offset: %d", offset)
		}
		seen[offset] = true
	}

	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	return &MatchingConfig{
		BatchSize:      mc.BatchSize,
		MinTolerance:   mc.MinTolerance,
		ToleranceRatio: mc.ToleranceRatio,
		FallbackMonths: append([]int(nil), mc.FallbackMonths...),
	}
}

// Tolerance returns the accepted amount difference for a gross amount:
// max(MinTolerance, |gross| * ToleranceRatio).
func (mc *MatchingConfig) Tolerance(gross decimal.Decimal) decimal.Decimal {
	return decimal.Max(mc.MinTolerance, gross.Abs().Mul(mc.ToleranceRatio))
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{BatchSize: %d, MinTolerance: %s, ToleranceRatio: %s, FallbackMonths: %v}",
		mc.BatchSize, mc.MinTolerance.String(), mc.ToleranceRatio.String(), mc.FallbackMonths)
}
