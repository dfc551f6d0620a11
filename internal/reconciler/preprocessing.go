package reconciler

import (
	"strings"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/matcher"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/pkg/logger"
)

// PreprocessingConfig contains configuration for data preprocessing
type PreprocessingConfig struct {
	// TrimWhitespace trims every text field
	TrimWhitespace bool `mapstructure:"trim_whitespace"`

	// DropInvalid removes records failing Transaction.Validate
	DropInvalid bool `mapstructure:"drop_invalid"`

	// DetectDuplicates reports sales sharing reference, date, brand and amount
	DetectDuplicates bool `mapstructure:"detect_duplicates"`
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace:   true,
		DropInvalid:      true,
		DetectDuplicates: true,
	}
}

// PreprocessStats counts what preprocessing did to a batch.
type PreprocessStats struct {
	Input           int `json:"input"`
	Output          int `json:"output"`
	Dropped         int `json:"dropped"`
	Invalid         int `json:"invalid"`
	MissingSaleDate int `json:"missingSaleDate"`
}

// Preprocessor cleans records before prediction or matching
type Preprocessor struct {
	config *PreprocessingConfig
	logger logger.Logger
}

// NewPreprocessor creates a new preprocessor
func NewPreprocessor(config *PreprocessingConfig) *Preprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	return &Preprocessor{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("preprocessor"),
	}
}

// Prepare returns cleaned copies of txs. Sale dates are brought to calendar-day
// form; records without a sale date are kept and counted.
func (p *Preprocessor) Prepare(txs []models.Transaction) ([]models.Transaction, PreprocessStats) {
	stats := PreprocessStats{Input: len(txs)}
	out := make([]models.Transaction, 0, len(txs))

	for _, tx := range txs {
		p.clean(&tx, &stats)

		if p.config.DropInvalid {
			if err := tx.Validate(); err != nil {
				stats.Dropped++
				p.logger.WithError(err).WithFields(logger.Fields{
					"merchant_id":     tx.MerchantID,
					"transaction_ref": tx.TransactionRef,
				}).Warn("Dropping invalid record")
				continue
			}
		}
		out = append(out, tx)
	}

	stats.Output = len(out)
	return out, stats
}

// PrepareReceivables cleans receivables of merchantID. Rows without a merchant are
// assigned to it. No row is dropped: every receivable must get a match result, so
// invalid rows are only counted and left for the matcher to report as unmatched.
func (p *Preprocessor) PrepareReceivables(txs []models.Transaction, merchantID string) ([]models.Transaction, PreprocessStats) {
	stats := PreprocessStats{Input: len(txs)}
	out := make([]models.Transaction, 0, len(txs))

	for _, tx := range txs {
		p.clean(&tx, &stats)
		if tx.MerchantID == "" {
			tx.MerchantID = merchantID
		}

		if err := tx.Validate(); err != nil {
			stats.Invalid++
			p.logger.WithError(err).WithFields(logger.Fields{
				"merchant_id":     tx.MerchantID,
				"transaction_ref": tx.TransactionRef,
			}).Warn("Invalid receivable will be reported as unmatched")
		}
		out = append(out, tx)
	}

	stats.Output = len(out)
	return out, stats
}

func (p *Preprocessor) clean(tx *models.Transaction, stats *PreprocessStats) {
	if p.config.TrimWhitespace {
		trimFields(tx)
	}
	if tx.HasSaleDate() {
		tx.SaleDate = calendar.Truncate(tx.SaleDate)
	} else {
		stats.MissingSaleDate++
	}
}

// Duplicates reports groups of sales that look like the same sale entered twice.
// Nothing is removed: duplicate sales are legitimate inputs to prediction.
func (p *Preprocessor) Duplicates(sales []models.Transaction) []matcher.DuplicateGroup {
	if !p.config.DetectDuplicates {
		return nil
	}

	groups := matcher.DetectDuplicates(sales)
	for _, g := range groups {
		p.logger.WithFields(logger.Fields{
			"transaction_ref": g.Key.Ref,
			"sale_date":       g.Key.SaleDate,
			"brand":           g.Brand,
			"count":           len(g.Sales),
		}).Warn("Possible duplicate sales")
	}
	return groups
}

func trimFields(tx *models.Transaction) {
	tx.ID = strings.TrimSpace(tx.ID)
	tx.MerchantID = strings.TrimSpace(tx.MerchantID)
	tx.MatrixID = strings.TrimSpace(tx.MatrixID)
	tx.Acquirer = strings.TrimSpace(tx.Acquirer)
	tx.Brand = strings.TrimSpace(tx.Brand)
	tx.Modality = strings.TrimSpace(tx.Modality)
	tx.TransactionRef = strings.TrimSpace(tx.TransactionRef)
}
