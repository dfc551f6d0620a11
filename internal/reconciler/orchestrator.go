package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/parsers"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"
)

// FeeRuleRegistry stores fee rules loaded from files.
type FeeRuleRegistry interface {
	InsertFeeRules(ctx context.Context, rules []models.FeeRule) (int, error)
}

// Orchestrator runs file-based workflows: it parses CSV inputs, hands them to
// the Service and reports progress step by step.
type Orchestrator struct {
	service      *Service
	registry     FeeRuleRegistry
	parserConfig *parsers.TransactionParserConfig
	logger       logger.Logger

	progressCallbacks []ProgressCallback
	progress          *Progress
	progressMutex     sync.RWMutex
}

// Progress tracks the progress of a file workflow
type Progress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called after every step
type ProgressCallback func(Progress)

// NewOrchestrator creates an orchestrator. registry may be nil when fee rule
// files are never loaded; a nil parserConfig uses defaults.
func NewOrchestrator(service *Service, registry FeeRuleRegistry, parserConfig *parsers.TransactionParserConfig) (*Orchestrator, error) {
	if service == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliation_service", nil, nil).
			WithSuggestion("Provide a valid Service instance")
	}
	if parserConfig == nil {
		parserConfig = parsers.DefaultTransactionParserConfig()
	}
	if err := parserConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", nil, err)
	}

	return &Orchestrator{
		service:      service,
		registry:     registry,
		parserConfig: parserConfig,
		logger:       logger.GetGlobalLogger().WithComponent("orchestrator"),
		progress:     &Progress{},
	}, nil
}

// AddProgressCallback adds a progress callback function
func (o *Orchestrator) AddProgressCallback(callback ProgressCallback) {
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// GetProgress returns a snapshot of the current progress
func (o *Orchestrator) GetProgress() Progress {
	o.progressMutex.RLock()
	defer o.progressMutex.RUnlock()
	return *o.progress
}

// PredictRequest names the inputs of a file prediction
type PredictRequest struct {
	SalesFile    string
	FeeRulesFile string
	Persist      bool
}

// Validate validates the prediction request
func (r *PredictRequest) Validate() error {
	if r.SalesFile == "" {
		return fmt.Errorf("sales file path is required")
	}
	return nil
}

// PredictResult is the outcome of PredictFiles
type PredictResult struct {
	Report             *PredictionReport   `json:"report"`
	SalesStats         *parsers.ParseStats `json:"salesStats"`
	FeeRuleStats       *parsers.ParseStats `json:"feeRuleStats,omitempty"`
	FeeRulesRegistered int                 `json:"feeRulesRegistered"`
}

// PredictFiles registers the fee rules file when given, parses the sales file
// and predicts it.
func (o *Orchestrator) PredictFiles(ctx context.Context, req *PredictRequest) (*PredictResult, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "predict_request", req.SalesFile, err)
	}
	o.startProgress(3)
	result := &PredictResult{}

	o.updateProgress("Loading fee rules")
	if req.FeeRulesFile != "" {
		n, stats, err := o.registerFeeRules(ctx, req.FeeRulesFile)
		if err != nil {
			return nil, err
		}
		result.FeeRulesRegistered, result.FeeRuleStats = n, stats
	}

	o.updateProgress("Parsing sales")
	parser, err := parsers.NewTransactionParser(parsers.KindSale, o.parserConfig)
	if err != nil {
		return nil, err
	}
	sales, stats, err := parser.ParseFile(ctx, req.SalesFile)
	if err != nil {
		o.logger.WithError(err).WithField("sales_file", req.SalesFile).Error("Failed to parse sales")
		return nil, err
	}
	result.SalesStats = stats

	o.updateProgress("Predicting settlement dates")
	report, err := o.service.Predict(ctx, sales, req.Persist)
	if err != nil {
		return nil, err
	}
	result.Report = report

	o.updateProgress("Completed")
	return result, nil
}

func (o *Orchestrator) registerFeeRules(ctx context.Context, path string) (int, *parsers.ParseStats, error) {
	if o.registry == nil {
		return 0, nil, errors.ConfigurationError(errors.CodeMissingConfig, "fee_rule_registry", nil,
			fmt.Errorf("no registry to store fee rules"))
	}

	parser, err := parsers.NewFeeRuleParser(o.parserConfig.ParseConfig)
	if err != nil {
		return 0, nil, err
	}
	rules, stats, err := parser.ParseFile(ctx, path)
	if err != nil {
		return 0, stats, err
	}
	n, err := o.registry.InsertFeeRules(ctx, rules)
	if err != nil {
		return 0, stats, err
	}

	o.logger.WithFields(logger.Fields{
		"file":  path,
		"rules": n,
	}).Info("Registered fee rules")
	return n, stats, nil
}

// ReconcileRequest names the inputs of a file reconciliation
type ReconcileRequest struct {
	ReceivablesFile string
	MerchantID      string
	Audit           bool
}

// Validate validates the reconciliation request
func (r *ReconcileRequest) Validate() error {
	if r.ReceivablesFile == "" {
		return fmt.Errorf("receivables file path is required")
	}
	return nil
}

// ReconcileResult is the outcome of ReconcileFile
type ReconcileResult struct {
	Reports    []*ReconciliationReport `json:"reports"`
	ParseStats *parsers.ParseStats     `json:"parseStats"`

	// OtherMerchants counts rows ignored because they belong to another merchant
	OtherMerchants int `json:"otherMerchants"`
}

// ReconcileFile parses a receivables file and reconciles it. With MerchantID
// set, rows without a merchant are assigned to it and rows of other merchants are
// ignored; otherwise every merchant in the file is reconciled.
func (o *Orchestrator) ReconcileFile(ctx context.Context, req *ReconcileRequest) (*ReconcileResult, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconcile_request", req.ReceivablesFile, err)
	}
	o.startProgress(2)

	o.updateProgress("Parsing receivables")
	config := *o.parserConfig
	config.DefaultMerchantID = req.MerchantID
	parser, err := parsers.NewTransactionParser(parsers.KindReceivable, &config)
	if err != nil {
		return nil, err
	}
	receivables, stats, err := parser.ParseFile(ctx, req.ReceivablesFile)
	if err != nil {
		o.logger.WithError(err).WithField("receivables_file", req.ReceivablesFile).Error("Failed to parse receivables")
		return nil, err
	}
	result := &ReconcileResult{ParseStats: stats}

	o.updateProgress("Matching receivables")
	if req.MerchantID != "" {
		own := receivables[:0]
		for _, r := range receivables {
			if r.MerchantID != req.MerchantID {
				result.OtherMerchants++
				continue
			}
			own = append(own, r)
		}
		if result.OtherMerchants > 0 {
			o.logger.WithFields(logger.Fields{
				"merchant_id": req.MerchantID,
				"ignored":     result.OtherMerchants,
			}).Warn("Ignoring receivables of other merchants")
		}

		report, err := o.service.Reconcile(ctx, req.MerchantID, own, req.Audit)
		if err != nil {
			return nil, err
		}
		result.Reports = []*ReconciliationReport{report}
	} else {
		reports, err := o.service.ReconcileMerchants(ctx, receivables, req.Audit)
		if err != nil {
			return nil, err
		}
		result.Reports = reports
	}

	o.updateProgress("Completed")
	return result, nil
}

func (o *Orchestrator) startProgress(steps int) {
	o.progressMutex.Lock()
	o.progress = &Progress{TotalSteps: steps, StartTime: time.Now()}
	o.progressMutex.Unlock()
}

// updateProgress records the step about to run. The first call starts at zero
// completed steps.
func (o *Orchestrator) updateProgress(step string) {
	o.progressMutex.Lock()
	if o.progress.CurrentStep != "" {
		o.progress.CompletedSteps++
	}
	o.progress.CurrentStep = step
	o.progress.ElapsedTime = time.Since(o.progress.StartTime)
	if o.progress.TotalSteps > 0 {
		o.progress.PercentComplete = float64(o.progress.CompletedSteps) / float64(o.progress.TotalSteps) * 100
	}
	snapshot := *o.progress
	o.progressMutex.Unlock()

	o.logger.WithFields(logger.Fields{
		"step":    snapshot.CurrentStep,
		"percent": snapshot.PercentComplete,
	}).Debug("Progress update")

	for _, callback := range o.progressCallbacks {
		callback(snapshot)
	}
}
