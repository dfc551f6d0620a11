package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sale(id, acquirer, ref, brand, gross string, date time.Time) models.Transaction {
	return models.Transaction{
		ID:               id,
		MerchantID:       "M1",
		Acquirer:         acquirer,
		Brand:            brand,
		Modality:         "Crédito à Vista",
		TransactionRef:   ref,
		SaleDate:         date,
		GrossAmount:      decimal.RequireFromString(gross),
		NetAmount:        decimal.RequireFromString(gross),
		InstallmentCount: 1,
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		merchant string
		acquirer string
		want     string
		wantErr  bool
	}{
		{"M1", "Cielo", "sales_m1_cielo", false},
		{"Loja São João", "Rede-Itaú", "sales_lojasaojoao_redeitau", false},
		{"M1", "  ", "", true},
		{"---", "Cielo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.merchant+"/"+tt.acquirer, func(t *testing.T) {
			got, err := TableName(tt.merchant, tt.acquirer)
			if tt.wantErr {
				require.Error(t, err)
				rerr, ok := errors.AsReconcilerError(err)
				require.True(t, ok)
				assert.Equal(t, errors.CodeInvalidTable, rerr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInsertAndFetchSales(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	predicted := calendar.Date(2025, time.April, 10)
	first := sale("", "Cielo", "00045", "VISA", "100.00", calendar.Date(2025, time.March, 10))
	first.PredictedSettlementDate = &predicted
	first.FeeAmount = decimal.NewNullDecimal(decimal.RequireFromString("2.50"))

	sales := []models.Transaction{
		first,
		sale("S2", "Rede", "46", "MASTER", "50.00", calendar.Date(2025, time.March, 31)),
		sale("S3", "Cielo", "47", "ELO", "10.00", calendar.Date(2025, time.April, 1)),
	}

	n, err := s.InsertSales(ctx, sales)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NotEmpty(t, sales[0].ID, "missing ids are assigned in place")

	// Re-inserting the same ids is ignored.
	n, err = s.InsertSales(ctx, sales)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	tables, err := s.SalesTables(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sales_m1_cielo", "sales_m1_rede"}, tables)

	march := calendar.MonthKey{Year: 2025, Month: time.March}
	got, err := s.FetchSales(ctx, "M1", march.Start(), march.End())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, sales[0].ID, got[0].ID)
	assert.Equal(t, "00045", got[0].TransactionRef)
	assert.True(t, got[0].GrossAmount.Equal(decimal.RequireFromString("100")))
	require.NotNil(t, got[0].PredictedSettlementDate)
	assert.True(t, got[0].PredictedSettlementDate.Equal(predicted))
	assert.True(t, got[0].FeeAmount.Valid)
	assert.Nil(t, got[0].SettlementDate)
	assert.Equal(t, "S2", got[1].ID)

	other, err := s.FetchSales(ctx, "M2", march.Start(), march.End())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFetchByReference(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	date := calendar.Date(2025, time.March, 10)

	_, err := s.InsertSales(ctx, []models.Transaction{
		sale("S1", "Cielo", "000045", "Visa Crédito", "100.00", date),
		sale("S2", "Cielo", "45", "MASTER", "100.00", date),
		sale("S3", "Cielo", "45", "VISA", "100.00", calendar.Date(2025, time.March, 11)),
	})
	require.NoError(t, err)

	rows, err := s.FetchByReference(ctx, "sales_m1_cielo", "NSU 45", date, "VISA")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "S1", rows[0].ID)

	rows, err = s.FetchByReference(ctx, "sales_m1_cielo", "45", date, "")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.FetchByReference(ctx, "sales_m1_getnet", "45", date, "VISA")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.FetchByReference(ctx, "fee_rules; DROP TABLE x", "45", date, "")
	assert.Error(t, err)
}

func TestUpdateStatus(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	date := calendar.Date(2025, time.March, 10)

	_, err := s.InsertSales(ctx, []models.Transaction{
		sale("S1", "Cielo", "45", "VISA", "100.00", date),
		sale("S2", "Cielo", "46", "VISA", "100.00", date),
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, "sales_m1_cielo", []string{"S1"}, models.StatusMatched))
	require.NoError(t, s.UpdateStatus(ctx, "sales_m1_cielo", nil, models.StatusMatched))

	rows, err := s.FetchByReference(ctx, "sales_m1_cielo", "45", date, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusMatched, rows[0].Status)

	rows, err = s.FetchByReference(ctx, "sales_m1_cielo", "46", date, "")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatus(""), rows[0].Status)

	ids := make([]string, MaxUpdateBatch+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("S%d", i)
	}
	err = s.UpdateStatus(ctx, "sales_m1_cielo", ids, models.StatusUnmatched)
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeBatchTooLarge, rerr.Code)

	assert.Error(t, s.UpdateStatus(ctx, "Sales-M1", []string{"S1"}, models.StatusMatched))
}

func TestFeeRules(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rules := []models.FeeRule{
		{MerchantID: "M1", Acquirer: "Cielo", Brand: "VISA", Modality: "Débito", InstallmentCount: 1, FeePercent: decimal.RequireFromString("1.5")},
		{MerchantID: "M1", Acquirer: "Cielo", Brand: "VISA", Modality: "Crédito à Vista", InstallmentCount: 1, FeePercent: decimal.RequireFromString("2.99"), CutoffDays: 1},
	}

	n, err := s.InsertFeeRules(ctx, rules)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotZero(t, rules[0].ID)

	got, err := s.ListFeeRules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Débito", got[0].Modality)
	assert.True(t, got[1].FeePercent.Equal(decimal.RequireFromString("2.99")))
	assert.Equal(t, 1, got[1].CutoffDays)
}
