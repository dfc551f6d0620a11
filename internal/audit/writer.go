// Package audit writes reconciliation statuses back onto stored sale records.
package audit

import (
	"context"
	"fmt"
	"time"

	"golang-settlement-reconciler/internal/matcher"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/normalize"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Store is the part of the storage collaborator the writer needs.
type Store interface {
	TableName(merchantID, acquirer string) (string, error)
	UpdateStatus(ctx context.Context, table string, ids []string, status models.MatchStatus) error
	FetchByReference(ctx context.Context, table, transactionRef string, saleDate time.Time, brand string) ([]models.Transaction, error)
}

// Config controls batching of status updates.
type Config struct {
	// BatchSize is the maximum number of ids per update call
	BatchSize int `json:"batch_size" mapstructure:"batch_size"`

	// MaxRecordedErrors bounds Summary.Errors; counts stay exact
	MaxRecordedErrors int `json:"max_recorded_errors" mapstructure:"max_recorded_errors"`

	// Matching supplies the amount tolerance for fallback lookups
	Matching *matcher.MatchingConfig `json:"-" mapstructure:"-"`
}

// DefaultConfig returns the default audit configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:         1000,
		MaxRecordedErrors: 100,
		Matching:          matcher.DefaultMatchingConfig(),
	}
}

// Validate checks if the audit configuration is valid
func (c *Config) Validate() error {
	if c.BatchSize <= 0 || c.BatchSize > 1000 {
		return fmt.Errorf("batch size must be between 1 and 1000: %d", c.BatchSize)
	}
	if c.MaxRecordedErrors < 0 {
		return fmt.Errorf("max recorded errors cannot be negative: %d", c.MaxRecordedErrors)
	}
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	return c.Matching.Validate()
}

// Summary counts what happened to each result handed to the writer.
type Summary struct {
	Updated     int                       `json:"updated"`
	Skipped     int                       `json:"skipped"`
	Errored     int                       `json:"errored"`
	Groups      int                       `json:"groups"`
	UpdateCalls int                       `json:"updateCalls"`
	Errors      []*errors.ReconcilerError `json:"errors,omitempty"`
}

// Err combines the recorded errors, or returns nil when there were none.
func (s *Summary) Err() error {
	errs := make([]error, 0, len(s.Errors))
	for _, err := range s.Errors {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

// Writer persists match statuses grouped by merchant and acquirer.
type Writer struct {
	store  Store
	config *Config
	logger logger.Logger
}

// NewWriter creates a writer. A nil config uses DefaultConfig.
func NewWriter(store Store, config *Config) *Writer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Writer{
		store:  store,
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("audit"),
	}
}

type groupKey struct {
	merchantID string
	acquirer   string
}

type group struct {
	key     groupKey
	results []*models.MatchResult
}

// Write updates the status of every sale referenced by results. Results with a
// sale id are updated directly; the others are resolved by reference, sale date
// and brand, choosing the stored sale closest in amount. A failed batch is counted
// and the run continues.
func (w *Writer) Write(ctx context.Context, results []*models.MatchResult) *Summary {
	summary := &Summary{}
	groups := groupResults(results, summary)
	summary.Groups = len(groups)

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "audit",
		Total:     int64(len(results)),
		Logger:    w.logger,
	})

	for _, g := range groups {
		w.writeGroup(ctx, g, summary)
		progress.Add(int64(len(g.results)))
	}
	progress.Complete()

	w.logger.WithFields(logger.Fields{
		"updated": summary.Updated,
		"skipped": summary.Skipped,
		"errored": summary.Errored,
		"groups":  summary.Groups,
	}).Info("Audit write completed")

	return summary
}

// groupResults buckets results by (merchant, acquirer) in first-encounter order.
// The matched sale's fields take precedence over the receivable's.
func groupResults(results []*models.MatchResult, summary *Summary) []*group {
	var groups []*group
	index := make(map[groupKey]*group)

	for _, result := range results {
		if result == nil {
			continue
		}
		source := result.Sale
		if source == nil {
			source = result.Receivable
		}
		if source == nil {
			summary.Skipped++
			continue
		}

		key := groupKey{merchantID: source.MerchantID, acquirer: source.Acquirer}
		g, ok := index[key]
		if !ok {
			g = &group{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.results = append(g.results, result)
	}

	return groups
}

func (w *Writer) writeGroup(ctx context.Context, g *group, summary *Summary) {
	log := w.logger.WithFields(logger.Fields{
		"merchant_id": g.key.merchantID,
		"acquirer":    g.key.acquirer,
	})

	table, err := w.store.TableName(g.key.merchantID, g.key.acquirer)
	if err != nil {
		log.WithError(err).Warn("Cannot resolve sales table, skipping group")
		summary.Skipped += len(g.results)
		w.record(summary, errors.StorageError(errors.CodeInvalidTable, g.key.merchantID+"/"+g.key.acquirer, err))
		return
	}

	var order []models.MatchStatus
	idsByStatus := make(map[models.MatchStatus][]string)
	seen := make(map[string]bool)

	for _, result := range g.results {
		id := result.SaleID
		if id == "" {
			id = w.lookupSaleID(ctx, table, result, log)
		}
		if id == "" {
			summary.Skipped++
			continue
		}
		if seen[id] {
			summary.Skipped++
			continue
		}
		seen[id] = true

		if _, ok := idsByStatus[result.Status]; !ok {
			order = append(order, result.Status)
		}
		idsByStatus[result.Status] = append(idsByStatus[result.Status], id)
	}

	for _, status := range order {
		ids := idsByStatus[status]
		for start := 0; start < len(ids); start += w.config.BatchSize {
			end := start + w.config.BatchSize
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[start:end]

			summary.UpdateCalls++
			if err := w.store.UpdateStatus(ctx, table, chunk, status); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"table":  table,
					"status": string(status),
					"ids":    len(chunk),
				}).Error("Status update failed")
				summary.Errored += len(chunk)
				w.record(summary, errors.StorageError(errors.CodeUpdateFailed, table, err))
				continue
			}
			summary.Updated += len(chunk)
		}
	}
}

// lookupSaleID finds the stored sale for a result that carries no sale id. Among
// the rows matching reference, date and brand it picks the one closest in gross
// amount within tolerance. Lookup failures count as "not found".
func (w *Writer) lookupSaleID(ctx context.Context, table string, result *models.MatchResult, log logger.Logger) string {
	r := result.Receivable
	if r == nil || !r.HasSaleDate() || r.SanitizedRef() == "" {
		return ""
	}

	rows, err := w.store.FetchByReference(ctx, table, r.TransactionRef, r.SaleDate, normalize.Brand(r.Brand))
	if err != nil {
		log.WithError(err).WithField("transaction_ref", r.TransactionRef).Warn("Fallback lookup failed")
		return ""
	}

	tolerance := w.config.Matching.Tolerance(r.GrossAmount)
	var best *models.Transaction
	var bestDiff decimal.Decimal
	for i := range rows {
		row := &rows[i]
		if row.ID == "" {
			continue
		}
		diff := r.GrossAmount.Sub(row.GrossAmount).Abs()
		if diff.GreaterThan(tolerance) {
			continue
		}
		if best == nil || diff.LessThan(bestDiff) {
			best = row
			bestDiff = diff
		}
	}

	if best == nil {
		return ""
	}
	return best.ID
}

func (w *Writer) record(summary *Summary, err *errors.ReconcilerError) {
	if len(summary.Errors) < w.config.MaxRecordedErrors {
		summary.Errors = append(summary.Errors, err)
	}
}
