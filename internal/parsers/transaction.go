package parsers

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"
)

// TransactionParser parses sales and receivables CSV files
type TransactionParser struct {
	*BaseParser
	kind   Kind
	config *TransactionParserConfig
	logger logger.Logger
}

// NewTransactionParser creates a parser for kind. A nil config uses defaults.
func NewTransactionParser(kind Kind, config *TransactionParserConfig) (*TransactionParser, error) {
	if config == nil {
		config = DefaultTransactionParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "transaction_parser_config", kind.String(), err).
			WithSuggestion("Check the parser configuration values")
	}

	return &TransactionParser{
		BaseParser: NewBaseParser(config.ParseConfig),
		kind:       kind,
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent(kind.String() + "_parser"),
	}, nil
}

// ParseFile parses every row of a CSV file.
func (tp *TransactionParser) ParseFile(ctx context.Context, filePath string) ([]models.Transaction, *ParseStats, error) {
	file, err := tp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return tp.Parse(ctx, file, filePath)
}

// Parse parses every row of r. source names the input in errors and logs.
func (tp *TransactionParser) Parse(ctx context.Context, r io.Reader, source string) ([]models.Transaction, *ParseStats, error) {
	var out []models.Transaction
	stats, err := tp.stream(ctx, r, source, 0, func(batch []models.Transaction) error {
		out = append(out, batch...)
		return nil
	})
	return out, stats, err
}

// Stream parses r and hands rows to fn in batches of at most batchSize. An error
// from fn stops parsing and is returned.
func (tp *TransactionParser) Stream(ctx context.Context, r io.Reader, source string, batchSize int, fn func([]models.Transaction) error) (*ParseStats, error) {
	if batchSize <= 0 {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "batch_size", batchSize, fmt.Errorf("batch size must be positive"))
	}
	return tp.stream(ctx, r, source, batchSize, fn)
}

// stream does the work of Parse and Stream. A batchSize of 0 delivers one batch.
func (tp *TransactionParser) stream(ctx context.Context, r io.Reader, source string, batchSize int, fn func([]models.Transaction) error) (*ParseStats, error) {
	tp.logger.WithFields(logger.Fields{
		"source":    source,
		"operation": "parse_" + tp.kind.String(),
	}).Info("Starting parsing")

	reader := tp.NewReader(r)
	parseCtx := NewParseContext(ctx, source)
	stats := NewParseStats(tp.config.MaxErrors)

	if err := tp.ReadHeaders(reader, parseCtx, tp.config.Columns(tp.kind)); err != nil {
		return stats, err
	}

	var batch []models.Transaction
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := fn(batch)
		batch = nil
		return err
	}

	for {
		record, err := tp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if rerr, ok := errors.AsReconcilerError(err); ok && rerr.Category == errors.CategoryInternal {
				return stats, err
			}
			stats.AddError(asParseError(err, parseCtx.LineNumber))
			continue
		}
		stats.RecordsParsed++

		tx, rowErr := tp.parseRecord(record, parseCtx)
		if rowErr != nil {
			stats.AddError(rowErr)
			continue
		}
		if !tx.HasSaleDate() {
			stats.InvalidDates++
		}
		stats.RecordsValid++

		batch = append(batch, tx)
		if batchSize > 0 && len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	stats.TotalLines = parseCtx.LineNumber

	if err := flush(); err != nil {
		return stats, err
	}

	log := tp.logger.WithFields(logger.Fields{
		"source":        source,
		"records_valid": stats.RecordsValid,
		"invalid_dates": stats.InvalidDates,
		"errors":        stats.ErrorCount,
	})
	if stats.HasErrors() {
		log.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Parsing completed with errors")
	} else {
		log.Info("Parsing completed")
	}

	return stats, nil
}

func asParseError(err error, line int) *ParseError {
	if pe, ok := err.(*ParseError); ok {
		return pe
	}
	return &ParseError{Line: line, Field: "record", Message: "malformed row", Err: err}
}

// parseRecord converts one row. Amount and reference problems reject the row; an
// unreadable sale date leaves SaleDate zero.
func (tp *TransactionParser) parseRecord(record []string, pc *ParseContext) (models.Transaction, *ParseError) {
	rowErr := func(field, value, msg string, err error) *ParseError {
		return &ParseError{Line: pc.LineNumber, Field: field, Value: value, Message: msg, Err: err}
	}

	tx := models.Transaction{
		ID:             pc.Field(record, ColID),
		MerchantID:     pc.Field(record, ColMerchantID),
		MatrixID:       pc.Field(record, ColMatrixID),
		Acquirer:       pc.Field(record, ColAcquirer),
		Brand:          pc.Field(record, ColBrand),
		Modality:       pc.Field(record, ColModality),
		TransactionRef: pc.Field(record, ColTransactionRef),
	}
	if tx.MerchantID == "" {
		tx.MerchantID = tp.config.DefaultMerchantID
	}
	if tx.Acquirer == "" {
		tx.Acquirer = tp.config.DefaultAcquirer
	}

	raw := pc.Field(record, ColGrossAmount)
	gross, err := models.ParseAmount(raw)
	if err != nil {
		return tx, rowErr(ColGrossAmount, raw, "invalid amount", err)
	}
	tx.GrossAmount = gross
	tx.NetAmount = gross

	if raw := pc.Field(record, ColNetAmount); raw != "" {
		net, err := models.ParseAmount(raw)
		if err != nil {
			return tx, rowErr(ColNetAmount, raw, "invalid amount", err)
		}
		tx.NetAmount = net
	}

	if raw := pc.Field(record, ColInstallmentCount); raw != "" {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(raw), "x"))
		if err != nil || n < 0 {
			return tx, rowErr(ColInstallmentCount, raw, "invalid installment count", err)
		}
		tx.InstallmentCount = n
	}

	if raw := pc.Field(record, ColSaleDate); raw != "" {
		if date, err := calendar.ParseDate(raw); err == nil {
			tx.SaleDate = date
		} else {
			tp.logger.WithFields(logger.Fields{
				"source":          pc.Source,
				"line_number":     pc.LineNumber,
				"transaction_ref": tx.TransactionRef,
				"value":           raw,
			}).Debug("Unparseable sale date, keeping row without it")
		}
	}

	if tp.kind == KindReceivable {
		if raw := pc.Field(record, ColSettlementDate); raw != "" {
			if date, err := calendar.ParseDate(raw); err == nil {
				tx.SettlementDate = &date
			}
		}
	}

	if err := tx.Validate(); err != nil {
		return tx, rowErr("record", tx.TransactionRef, "invalid record", err)
	}
	return tx, nil
}
