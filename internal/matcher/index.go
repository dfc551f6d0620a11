package matcher

import (
	"context"
	"sync"
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/normalize"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"
)

// SaleFetcher loads a merchant's sales with a sale date in [start, end].
type SaleFetcher interface {
	FetchSales(ctx context.Context, merchantID string, start, end time.Time) ([]models.Transaction, error)
}

// IndexKey is the join key between a receivable and its sale.
type IndexKey struct {
	SaleDate string `json:"saleDate"` // YYYY-MM-DD
	Ref      string `json:"ref"`      // digits only, no leading zeros
}

// KeyOf returns the index key of a transaction.
func KeyOf(tx *models.Transaction) IndexKey {
	return IndexKey{
		SaleDate: calendar.FormatISO(tx.SaleDate),
		Ref:      normalize.Ref(tx.TransactionRef),
	}
}

// IndexStats provides statistics about the index
type IndexStats struct {
	Sales         int `json:"sales"`
	Keys          int `json:"keys"`
	MonthsFetched int `json:"monthsFetched"`
	FetchFailures int `json:"fetchFailures"`
}

// SaleIndex maps (sale date, reference) to candidate sales of one merchant and
// grows month by month as receivables need it. It belongs to a single
// reconciliation run and is safe for concurrent use.
type SaleIndex struct {
	mu         sync.Mutex
	merchantID string
	fetcher    SaleFetcher
	byKey      map[IndexKey][]*models.Transaction
	fetched    map[calendar.MonthKey]bool
	sales      int
	failures   int
	logger     logger.Logger
}

// NewSaleIndex creates an empty index. A nil fetcher limits the index to sales
// added with IndexSales.
func NewSaleIndex(merchantID string, fetcher SaleFetcher) *SaleIndex {
	return &SaleIndex{
		merchantID: merchantID,
		fetcher:    fetcher,
		byKey:      make(map[IndexKey][]*models.Transaction),
		fetched:    make(map[calendar.MonthKey]bool),
		logger:     logger.GetGlobalLogger().WithComponent("matcher").WithField("merchant_id", merchantID),
	}
}

// IndexSales appends every sale to its key's candidate list, after any candidates
// already there.
func (si *SaleIndex) IndexSales(sales []models.Transaction) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.indexLocked(sales)
}

func (si *SaleIndex) indexLocked(sales []models.Transaction) {
	for i := range sales {
		sale := sales[i]
		key := KeyOf(&sale)
		si.byKey[key] = append(si.byKey[key], &sale)
		si.sales++
	}
}

// Candidates returns the sales indexed under key, in the order they were added.
func (si *SaleIndex) Candidates(key IndexKey) []*models.Transaction {
	si.mu.Lock()
	defer si.mu.Unlock()

	list := si.byKey[key]
	if len(list) == 0 {
		return nil
	}
	return append([]*models.Transaction(nil), list...)
}

// EnsureMonth fetches and indexes the merchant's sales for month unless that month
// was already requested in this run. It reports whether a fetch was attempted. A
// failed fetch still marks the month as requested and is not retried; matching
// carries on with the candidates already indexed.
func (si *SaleIndex) EnsureMonth(ctx context.Context, month calendar.MonthKey) (bool, error) {
	si.mu.Lock()
	defer si.mu.Unlock()

	if si.fetched[month] {
		return false, nil
	}
	si.fetched[month] = true

	if si.fetcher == nil {
		return false, nil
	}

	sales, err := si.fetcher.FetchSales(ctx, si.merchantID, month.Start(), month.End())
	if err != nil {
		si.failures++
		si.logger.WithError(err).WithField("month", month.String()).Warn("Failed to fetch sales for month")
		return true, errors.ReconciliationError(errors.CodeLookupFailed, "fetch_sales", err).
			WithContext("month", month.String())
	}

	si.indexLocked(sales)
	si.logger.WithFields(logger.Fields{
		"month": month.String(),
		"sales": len(sales),
	}).Debug("Indexed sales for month")

	return true, nil
}

// IsFetched reports whether month was already requested.
func (si *SaleIndex) IsFetched(month calendar.MonthKey) bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.fetched[month]
}

// GetIndexStats returns statistics about the index
func (si *SaleIndex) GetIndexStats() IndexStats {
	si.mu.Lock()
	defer si.mu.Unlock()

	return IndexStats{
		Sales:         si.sales,
		Keys:          len(si.byKey),
		MonthsFetched: len(si.fetched),
		FetchFailures: si.failures,
	}
}
