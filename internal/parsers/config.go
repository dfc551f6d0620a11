package parsers

import (
	"fmt"
	"strings"
)

// Column is a logical field and the header names it may appear under.
type Column struct {
	Name     string
	Aliases  []string
	Required bool
}

func (c Column) names() []string {
	return append([]string{c.Name}, c.Aliases...)
}

// Logical column names.
const (
	ColID               = "id"
	ColMerchantID       = "merchant_id"
	ColMatrixID         = "matrix_id"
	ColAcquirer         = "acquirer"
	ColBrand            = "brand"
	ColModality         = "modality"
	ColTransactionRef   = "transaction_ref"
	ColSaleDate         = "sale_date"
	ColGrossAmount      = "gross_amount"
	ColNetAmount        = "net_amount"
	ColInstallmentCount = "installment_count"
	ColSettlementDate   = "settlement_date"
	ColFeePercent       = "fee_percent"
	ColCutoffDays       = "cutoff_days"
)

var columnAliases = map[string][]string{
	ColID:               {"sale_id", "receivable_id", "codigo", "identificador"},
	ColMerchantID:       {"merchant", "estabelecimento", "codigo_estabelecimento", "ec", "loja"},
	ColMatrixID:         {"matrix", "matriz", "codigo_matriz"},
	ColAcquirer:         {"adquirente", "credenciadora"},
	ColBrand:            {"bandeira", "card_brand"},
	ColModality:         {"modalidade", "produto", "tipo_venda", "forma_pagamento"},
	ColTransactionRef:   {"nsu", "reference", "referencia", "cv", "doc", "autorizacao"},
	ColSaleDate:         {"data_venda", "data_da_venda", "data", "date"},
	ColGrossAmount:      {"valor_bruto", "valor", "amount", "gross"},
	ColNetAmount:        {"valor_liquido", "net"},
	ColInstallmentCount: {"parcelas", "qtd_parcelas", "numero_parcelas", "installments"},
	ColSettlementDate:   {"data_pagamento", "data_credito", "data_recebimento", "payment_date"},
	ColFeePercent:       {"taxa", "mdr", "percentual", "fee"},
	ColCutoffDays:       {"corte", "dias_corte", "cutoff"},
}

func column(name string, required bool) Column {
	return Column{Name: name, Aliases: columnAliases[name], Required: required}
}

// Kind selects the record layout a TransactionParser expects.
type Kind int

const (
	KindSale Kind = iota
	KindReceivable
)

func (k Kind) String() string {
	if k == KindReceivable {
		return "receivable"
	}
	return "sale"
}

// TransactionParserConfig configures sales and receivables parsing
type TransactionParserConfig struct {
	*ParseConfig `mapstructure:",squash"`

	// DefaultMerchantID fills rows when the file has no merchant column
	DefaultMerchantID string `mapstructure:"default_merchant_id"`

	// DefaultAcquirer fills rows when the file has no acquirer column
	DefaultAcquirer string `mapstructure:"default_acquirer"`

	// ColumnAliases adds header names per logical column
	ColumnAliases map[string][]string `mapstructure:"column_aliases"`
}

// DefaultTransactionParserConfig returns a configuration with standard defaults
func DefaultTransactionParserConfig() *TransactionParserConfig {
	return &TransactionParserConfig{
		ParseConfig:   DefaultParseConfig(),
		ColumnAliases: make(map[string][]string),
	}
}

// Validate checks if the transaction parser configuration is valid
func (c *TransactionParserConfig) Validate() error {
	if c.ParseConfig == nil {
		return fmt.Errorf("parse configuration is required")
	}
	if err := c.ParseConfig.Validate(); err != nil {
		return err
	}
	for name := range c.ColumnAliases {
		if _, ok := columnAliases[name]; !ok {
			return fmt.Errorf("unknown column %q in column aliases", name)
		}
	}
	return nil
}

// Columns returns the column set for kind, with configured aliases first.
func (c *TransactionParserConfig) Columns(kind Kind) []Column {
	cols := []Column{
		column(ColID, false),
		column(ColMerchantID, strings.TrimSpace(c.DefaultMerchantID) == ""),
		column(ColMatrixID, false),
		column(ColAcquirer, strings.TrimSpace(c.DefaultAcquirer) == ""),
		column(ColBrand, false),
		column(ColModality, kind == KindSale),
		column(ColTransactionRef, true),
		column(ColSaleDate, true),
		column(ColGrossAmount, true),
		column(ColNetAmount, false),
		column(ColInstallmentCount, false),
	}
	if kind == KindReceivable {
		cols = append(cols, column(ColSettlementDate, false))
	}

	for i := range cols {
		if extra := c.ColumnAliases[cols[i].Name]; len(extra) > 0 {
			cols[i].Aliases = append(append([]string(nil), extra...), cols[i].Aliases...)
		}
	}
	return cols
}

// FeeRuleColumns is the fee rule layout.
func FeeRuleColumns() []Column {
	return []Column{
		column(ColMerchantID, false),
		column(ColAcquirer, false),
		column(ColBrand, false),
		column(ColModality, true),
		column(ColInstallmentCount, false),
		column(ColFeePercent, true),
		column(ColCutoffDays, false),
	}
}
