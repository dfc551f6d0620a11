// Package reconciler ties the settlement predictor, the match resolver and the
// audit writer to a storage backend.
//
// A Service runs the two halves of the workflow:
//   - Predict annotates sales with their expected settlement date and fee, and
//     optionally stores them
//   - Reconcile matches one merchant's receivables against its stored sales and
//     optionally writes the statuses back
//
// Every call builds its own installment sequencer and sale index, so concurrent
// calls never share per-run state.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"golang-settlement-reconciler/internal/audit"
	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/feerule"
	"golang-settlement-reconciler/internal/matcher"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/settlement"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/sourcegraph/conc/pool"
)

// Store is the storage the service needs.
type Store interface {
	matcher.SaleFetcher
	audit.Store
	InsertSales(ctx context.Context, sales []models.Transaction) (int, error)
	ListFeeRules(ctx context.Context) ([]models.FeeRule, error)
}

// Config holds configuration options for the reconciliation service
type Config struct {
	Matching      *matcher.MatchingConfig `mapstructure:"matching"`
	Audit         *audit.Config           `mapstructure:"audit"`
	Preprocessing *PreprocessingConfig    `mapstructure:"preprocessing"`

	// PersistBatchSize is the number of sales stored per insert call
	PersistBatchSize int `mapstructure:"persist_batch_size"`

	// MerchantConcurrency is the number of merchants reconciled at once
	MerchantConcurrency int `mapstructure:"merchant_concurrency"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	matching := matcher.DefaultMatchingConfig()
	auditConfig := audit.DefaultConfig()
	auditConfig.Matching = matching

	return &Config{
		Matching:            matching,
		Audit:               auditConfig,
		Preprocessing:       DefaultPreprocessingConfig(),
		PersistBatchSize:    1000,
		MerchantConcurrency: 1,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil || c.Audit == nil || c.Preprocessing == nil {
		return fmt.Errorf("matching, audit and preprocessing configuration are required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if c.PersistBatchSize <= 0 {
		return fmt.Errorf("persist batch size must be positive, got %d", c.PersistBatchSize)
	}
	if c.MerchantConcurrency <= 0 {
		return fmt.Errorf("merchant concurrency must be positive, got %d", c.MerchantConcurrency)
	}
	return nil
}

// Service runs predictions and reconciliations against a Store
type Service struct {
	store        Store
	config       *Config
	preprocessor *Preprocessor
	logger       logger.Logger
}

// NewService creates a service. A nil config uses DefaultConfig.
func NewService(store Store, config *Config) (*Service, error) {
	if store == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil).
			WithSuggestion("Provide a storage backend")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}

	return &Service{
		store:        store,
		config:       config,
		preprocessor: NewPreprocessor(config.Preprocessing),
		logger:       logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// PredictionLine is the prediction of one sale.
type PredictionLine struct {
	TransactionRef          string              `json:"transactionRef"`
	SaleDate                string              `json:"saleDate"`
	Category                settlement.Category `json:"category"`
	Outcome                 settlement.Outcome  `json:"outcome"`
	Tier                    string              `json:"feeRuleTier"`
	Installment             int                 `json:"installment,omitempty"`
	PredictedSettlementDate *time.Time          `json:"predictedSettlementDate"`
}

// PredictionReport is the result of Service.Predict.
type PredictionReport struct {
	Sales       []models.Transaction     `json:"sales"`
	Lines       []PredictionLine         `json:"predictions"`
	Stats       settlement.Stats         `json:"stats"`
	Preprocess  PreprocessStats          `json:"preprocess"`
	Duplicates  []matcher.DuplicateGroup `json:"duplicates,omitempty"`
	Persisted   int                      `json:"persisted"`
	FeeRules    int                      `json:"feeRules"`
	ProcessedAt time.Time                `json:"processedAt"`
	Duration    time.Duration            `json:"duration"`
}

// Predict annotates sales with their predicted settlement date and fee using the
// stored fee rules. With persist set, the annotated sales are stored in batches.
// The input slice is not modified; annotated copies are returned in the report.
func (s *Service) Predict(ctx context.Context, sales []models.Transaction, persist bool) (*PredictionReport, error) {
	start := time.Now()
	report := &PredictionReport{ProcessedAt: start}

	rules, err := s.store.ListFeeRules(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeFetchFailed, "failed to load fee rules")
	}
	report.FeeRules = len(rules)

	prepared, pstats := s.preprocessor.Prepare(sales)
	report.Preprocess = pstats
	report.Duplicates = s.preprocessor.Duplicates(prepared)

	run := settlement.NewPredictor(feerule.NewResolver(rules)).NewRun()
	preds := run.Annotate(prepared)

	report.Sales = prepared
	report.Stats = run.Stats()
	report.Lines = make([]PredictionLine, len(preds))
	for i, pred := range preds {
		report.Lines[i] = PredictionLine{
			TransactionRef:          prepared[i].TransactionRef,
			SaleDate:                calendar.FormatISO(prepared[i].SaleDate),
			Category:                pred.Category,
			Outcome:                 pred.Outcome,
			Tier:                    pred.Tier.String(),
			Installment:             pred.Installment,
			PredictedSettlementDate: pred.Date,
		}
	}

	if persist {
		if err := s.persist(ctx, prepared, report); err != nil {
			return report, err
		}
	}

	report.Duration = time.Since(start)
	s.logger.WithFields(logger.Fields{
		"sales":        report.Stats.Total,
		"predicted":    report.Stats.Predicted,
		"no_rule":      report.Stats.NoRule,
		"invalid_date": report.Stats.InvalidDate,
		"duplicates":   len(report.Duplicates),
		"persisted":    report.Persisted,
		"duration":     report.Duration,
	}).Info("Prediction completed")

	return report, nil
}

// Schedule previews every installment settlement date of one sale using the
// stored fee rules. No sequencer state is involved, so repeated calls agree.
func (s *Service) Schedule(ctx context.Context, sale models.Transaction) (*ScheduleReport, error) {
	rules, err := s.store.ListFeeRules(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeFetchFailed, "failed to load fee rules")
	}

	if sale.HasSaleDate() {
		sale.SaleDate = calendar.Truncate(sale.SaleDate)
	}
	dates, outcome := settlement.NewPredictor(feerule.NewResolver(rules)).Schedule(&sale)

	report := &ScheduleReport{
		TransactionRef: sale.TransactionRef,
		SaleDate:       calendar.FormatISO(sale.SaleDate),
		Category:       settlement.Classify(sale.Modality, sale.InstallmentCount),
		Outcome:        outcome,
		Dates:          make([]string, len(dates)),
	}
	for i, d := range dates {
		report.Dates[i] = calendar.FormatISO(d)
	}
	return report, nil
}

// ScheduleReport lists the settlement date of each installment of a sale.
type ScheduleReport struct {
	TransactionRef string              `json:"transactionRef"`
	SaleDate       string              `json:"saleDate"`
	Category       settlement.Category `json:"category"`
	Outcome        settlement.Outcome  `json:"outcome"`
	Dates          []string            `json:"dates"`
}

func (s *Service) persist(ctx context.Context, sales []models.Transaction, report *PredictionReport) error {
	size := s.config.PersistBatchSize
	for start := 0; start < len(sales); start += size {
		end := start + size
		if end > len(sales) {
			end = len(sales)
		}
		n, err := s.store.InsertSales(ctx, sales[start:end])
		if err != nil {
			s.logger.WithError(err).WithField("offset", start).Error("Failed to persist sales")
			return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeInsertFailed, "failed to persist sales")
		}
		report.Persisted += n
	}
	return nil
}

// ReconciliationReport is the result of Service.Reconcile for one merchant.
type ReconciliationReport struct {
	MerchantID  string                        `json:"merchantId"`
	Results     []*models.MatchResult         `json:"results"`
	Summary     matcher.ReconciliationSummary `json:"summary"`
	Preprocess  PreprocessStats               `json:"preprocess"`
	Audit       *audit.Summary                `json:"audit,omitempty"`
	ProcessedAt time.Time                     `json:"processedAt"`
	Duration    time.Duration                 `json:"duration"`
}

// Reconcile matches receivables of one merchant against its stored sales. With
// withAudit set, the outcome is written back onto the sale records. Storage
// failures during matching and auditing are counted in the report, not returned.
func (s *Service) Reconcile(ctx context.Context, merchantID string, receivables []models.Transaction, withAudit bool) (*ReconciliationReport, error) {
	if merchantID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "merchant_id", merchantID, nil)
	}
	start := time.Now()

	prepared, pstats := s.preprocessor.PrepareReceivables(receivables, merchantID)

	engine := matcher.NewMatchingEngine(s.config.Matching, matcher.NewSaleIndex(merchantID, s.store))
	result, err := engine.Reconcile(ctx, prepared)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeUnresolvable, "reconciliation failed")
	}

	report := &ReconciliationReport{
		MerchantID:  merchantID,
		Results:     result.Results,
		Summary:     result.Summary,
		Preprocess:  pstats,
		ProcessedAt: start,
	}

	if withAudit {
		report.Audit = audit.NewWriter(s.store, s.config.Audit).Write(ctx, result.Results)
	}

	report.Duration = time.Since(start)
	s.logger.WithFields(logger.Fields{
		"merchant_id": merchantID,
		"receivables": report.Summary.TotalReceivables,
		"matched":     report.Summary.Matched,
		"unmatched":   report.Summary.Unmatched,
		"audit":       withAudit,
		"duration":    report.Duration,
	}).Info("Reconciliation completed")

	return report, nil
}

// ReconcileMerchants splits receivables by merchant and reconciles each group,
// up to Config.MerchantConcurrency at a time. Reports come back in order of each
// merchant's first appearance. Receivables without a merchant are rejected.
func (s *Service) ReconcileMerchants(ctx context.Context, receivables []models.Transaction, withAudit bool) ([]*ReconciliationReport, error) {
	var merchants []string
	groups := make(map[string][]models.Transaction)
	for _, r := range receivables {
		if r.MerchantID == "" {
			return nil, errors.ValidationError(errors.CodeMissingField, "merchant_id", r.TransactionRef, nil).
				WithSuggestion("Every receivable needs a merchant when several merchants are reconciled together")
		}
		if _, ok := groups[r.MerchantID]; !ok {
			merchants = append(merchants, r.MerchantID)
		}
		groups[r.MerchantID] = append(groups[r.MerchantID], r)
	}

	reports := make([]*ReconciliationReport, len(merchants))
	p := pool.New().WithMaxGoroutines(s.config.MerchantConcurrency).WithContext(ctx)
	for i, merchantID := range merchants {
		i, merchantID := i, merchantID
		p.Go(func(ctx context.Context) error {
			report, err := s.Reconcile(ctx, merchantID, groups[merchantID], withAudit)
			if err != nil {
				return fmt.Errorf("merchant %s: %w", merchantID, err)
			}
			reports[i] = report
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}
