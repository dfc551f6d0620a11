package matcher

import (
	"context"
	"fmt"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/normalize"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
)

// MatchingEngine resolves receivables against a SaleIndex
type MatchingEngine struct {
	Config *MatchingConfig
	Index  *SaleIndex
	logger logger.Logger
}

// ReconciliationResult represents the complete result of a reconciliation run
type ReconciliationResult struct {
	Results []*models.MatchResult `json:"results"`
	Summary ReconciliationSummary `json:"summary"`
}

// ReconciliationSummary provides aggregate statistics about the reconciliation
type ReconciliationSummary struct {
	TotalReceivables     int             `json:"totalReceivables"`
	Matched              int             `json:"matched"`
	Unmatched            int             `json:"unmatched"`
	Batches              int             `json:"batches"`
	MonthsFetched        int             `json:"monthsFetched"`
	FetchFailures        int             `json:"fetchFailures"`
	Ambiguous            int             `json:"ambiguous"`
	TotalAmountMatched   decimal.Decimal `json:"totalAmountMatched"`
	TotalAmountUnmatched decimal.Decimal `json:"totalAmountUnmatched"`
}

// MatchRate returns the share of receivables that found a sale, in percent.
func (s ReconciliationSummary) MatchRate() float64 {
	if s.TotalReceivables == 0 {
		return 0
	}
	return float64(s.Matched) / float64(s.TotalReceivables) * 100
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig, index *SaleIndex) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &MatchingEngine{
		Config: config,
		Index:  index,
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}
}

// ValidateConfiguration validates the current configuration
func (me *MatchingEngine) ValidateConfiguration() error {
	if me.Index == nil {
		return fmt.Errorf("sale index must be set before reconciliation")
	}
	return me.Config.Validate()
}

// Reconcile produces one MatchResult per receivable, in input order. Receivables
// are processed in batches of Config.BatchSize. Storage failures never stop the
// run; they only leave receivables unmatched.
func (me *MatchingEngine) Reconcile(ctx context.Context, receivables []models.Transaction) (*ReconciliationResult, error) {
	if err := me.ValidateConfiguration(); err != nil {
		return nil, err
	}

	result := &ReconciliationResult{
		Results: make([]*models.MatchResult, 0, len(receivables)),
		Summary: ReconciliationSummary{
			TotalReceivables:     len(receivables),
			TotalAmountMatched:   decimal.Zero,
			TotalAmountUnmatched: decimal.Zero,
		},
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "reconcile",
		Total:     int64(len(receivables)),
		Logger:    me.logger,
	})

	for start := 0; start < len(receivables); start += me.Config.BatchSize {
		end := start + me.Config.BatchSize
		if end > len(receivables) {
			end = len(receivables)
		}

		for i := start; i < end; i++ {
			match, qualifying := me.findMatch(ctx, &receivables[i])
			result.Results = append(result.Results, match)
			if qualifying > 1 {
				result.Summary.Ambiguous++
			}

			if match.Matched() {
				result.Summary.Matched++
				result.Summary.TotalAmountMatched = result.Summary.TotalAmountMatched.Add(receivables[i].GrossAmount)
			} else {
				result.Summary.Unmatched++
				result.Summary.TotalAmountUnmatched = result.Summary.TotalAmountUnmatched.Add(receivables[i].GrossAmount)
			}
		}

		result.Summary.Batches++
		progress.Add(int64(end - start))
	}
	progress.Complete()

	stats := me.Index.GetIndexStats()
	result.Summary.MonthsFetched = stats.MonthsFetched
	result.Summary.FetchFailures = stats.FetchFailures

	me.logger.WithFields(logger.Fields{
		"receivables": result.Summary.TotalReceivables,
		"matched":     result.Summary.Matched,
		"unmatched":   result.Summary.Unmatched,
		"months":      stats.MonthsFetched,
	}).Info("Reconciliation completed")

	return result, nil
}

// FindMatch resolves a single receivable. When the index has no candidates for its
// key, the configured fallback months are fetched in order until one of them
// yields candidates.
func (me *MatchingEngine) FindMatch(ctx context.Context, receivable *models.Transaction) *models.MatchResult {
	match, _ := me.findMatch(ctx, receivable)
	return match
}

// findMatch also reports how many candidates qualified. A receivable without a
// usable reference cannot be keyed and is unmatched without any fetch.
func (me *MatchingEngine) findMatch(ctx context.Context, receivable *models.Transaction) (*models.MatchResult, int) {
	match := &models.MatchResult{
		ReceivableID: receivableID(receivable),
		Status:       models.StatusUnmatched,
		Receivable:   receivable,
	}
	if receivable.SanitizedRef() == "" {
		return match, 0
	}

	key := KeyOf(receivable)
	candidates := me.Index.Candidates(key)

	if len(candidates) == 0 && receivable.HasSaleDate() {
		month := calendar.MonthOf(receivable.SaleDate)
		for _, offset := range me.Config.FallbackMonths {
			attempted, _ := me.Index.EnsureMonth(ctx, month.Add(offset))
			if !attempted {
				continue
			}
			candidates = me.Index.Candidates(key)
			if len(candidates) > 0 {
				break
			}
		}
	}

	sale := me.SelectCandidate(receivable, candidates)
	if sale == nil {
		return match, 0
	}

	match.Status = models.StatusMatched
	match.Sale = sale
	match.SaleID = sale.ID
	match.PredictedSettlementDate = sale.PredictedSettlementDate
	match.MatchedGross = decimal.NewNullDecimal(sale.GrossAmount)
	match.AmountDifference = decimal.NewNullDecimal(receivable.GrossAmount.Sub(sale.GrossAmount))
	return match, len(me.QualifyingCandidates(receivable, candidates))
}

// SelectCandidate returns the first candidate whose brand is compatible with the
// receivable and whose gross amount is within tolerance. Closeness is not used to
// choose between qualifying candidates.
func (me *MatchingEngine) SelectCandidate(receivable *models.Transaction, candidates []*models.Transaction) *models.Transaction {
	if len(candidates) == 0 {
		return nil
	}

	tolerance := me.Config.Tolerance(receivable.GrossAmount)
	for _, candidate := range candidates {
		if qualifies(receivable, candidate, tolerance) {
			return candidate
		}
	}
	return nil
}

func qualifies(receivable, candidate *models.Transaction, tolerance decimal.Decimal) bool {
	return normalize.BrandsCompatible(candidate.Brand, receivable.Brand) &&
		models.CompareAmountsWithTolerance(receivable.GrossAmount, candidate.GrossAmount, tolerance)
}

func receivableID(tx *models.Transaction) string {
	if tx.ID != "" {
		return tx.ID
	}
	return tx.TransactionRef
}
