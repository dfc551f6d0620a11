package parsers

import (
	"context"
	"io"
	"strconv"
	"strings"

	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"
)

// FeeRuleParser parses fee rule CSV files
type FeeRuleParser struct {
	*BaseParser
	config *ParseConfig
	logger logger.Logger
}

// NewFeeRuleParser creates a fee rule parser. A nil config uses defaults.
func NewFeeRuleParser(config *ParseConfig) (*FeeRuleParser, error) {
	if config == nil {
		config = DefaultParseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "fee_rule_parser_config", nil, err)
	}
	return &FeeRuleParser{
		BaseParser: NewBaseParser(config),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("fee_rule_parser"),
	}, nil
}

// ParseFile parses a fee rule CSV file.
func (fp *FeeRuleParser) ParseFile(ctx context.Context, filePath string) ([]models.FeeRule, *ParseStats, error) {
	file, err := fp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return fp.Parse(ctx, file, filePath)
}

// Parse reads fee rules in file order. Invalid rows are dropped and counted.
func (fp *FeeRuleParser) Parse(ctx context.Context, r io.Reader, source string) ([]models.FeeRule, *ParseStats, error) {
	reader := fp.NewReader(r)
	parseCtx := NewParseContext(ctx, source)
	stats := NewParseStats(fp.config.MaxErrors)

	if err := fp.ReadHeaders(reader, parseCtx, FeeRuleColumns()); err != nil {
		return nil, stats, err
	}

	var rules []models.FeeRule
	for {
		record, err := fp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if rerr, ok := errors.AsReconcilerError(err); ok && rerr.Category == errors.CategoryInternal {
				return rules, stats, err
			}
			stats.AddError(asParseError(err, parseCtx.LineNumber))
			continue
		}
		stats.RecordsParsed++

		rule, rowErr := parseFeeRule(record, parseCtx)
		if rowErr != nil {
			stats.AddError(rowErr)
			continue
		}
		stats.RecordsValid++
		rules = append(rules, rule)
	}
	stats.TotalLines = parseCtx.LineNumber

	fp.logger.WithFields(logger.Fields{
		"source": source,
		"rules":  len(rules),
		"errors": stats.ErrorCount,
	}).Info("Parsed fee rules")

	return rules, stats, nil
}

func parseFeeRule(record []string, pc *ParseContext) (models.FeeRule, *ParseError) {
	rowErr := func(field, value, msg string, err error) *ParseError {
		return &ParseError{Line: pc.LineNumber, Field: field, Value: value, Message: msg, Err: err}
	}

	rule := models.FeeRule{
		MerchantID:       pc.Field(record, ColMerchantID),
		Acquirer:         pc.Field(record, ColAcquirer),
		Brand:            pc.Field(record, ColBrand),
		Modality:         pc.Field(record, ColModality),
		InstallmentCount: 1,
	}

	raw := pc.Field(record, ColFeePercent)
	pct, err := models.ParseAmount(strings.TrimSuffix(raw, "%"))
	if err != nil {
		return rule, rowErr(ColFeePercent, raw, "invalid fee percent", err)
	}
	rule.FeePercent = pct

	if raw := pc.Field(record, ColInstallmentCount); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return rule, rowErr(ColInstallmentCount, raw, "invalid installment count", err)
		}
		rule.InstallmentCount = n
	}

	if raw := pc.Field(record, ColCutoffDays); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return rule, rowErr(ColCutoffDays, raw, "invalid cutoff days", err)
		}
		rule.CutoffDays = n
	}

	if err := rule.Validate(); err != nil {
		return rule, rowErr("record", rule.Modality, "invalid fee rule", err)
	}
	return rule, nil
}
