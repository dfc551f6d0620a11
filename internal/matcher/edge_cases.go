package matcher

import (
	"sort"

	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/normalize"
)

// QualifyingCandidates returns every candidate that SelectCandidate would accept,
// in encounter order. More than one entry means the first-match rule broke a tie.
func (me *MatchingEngine) QualifyingCandidates(receivable *models.Transaction, candidates []*models.Transaction) []*models.Transaction {
	if len(candidates) == 0 {
		return nil
	}

	tolerance := me.Config.Tolerance(receivable.GrossAmount)
	var out []*models.Transaction
	for _, candidate := range candidates {
		if qualifies(receivable, candidate, tolerance) {
			out = append(out, candidate)
		}
	}
	return out
}

// DuplicateGroup is a set of sales that no receivable could tell apart: same sale
// date, reference, brand and gross amount.
type DuplicateGroup struct {
	Key   IndexKey              `json:"key"`
	Brand string                `json:"brand"`
	Sales []*models.Transaction `json:"sales"`
}

// DetectDuplicates groups indistinguishable sales. Groups are ordered by sale date
// and reference; sales keep their input order inside a group.
func DetectDuplicates(sales []models.Transaction) []DuplicateGroup {
	type groupKey struct {
		key   IndexKey
		brand string
		gross string
	}

	groups := make(map[groupKey][]*models.Transaction)
	var order []groupKey
	for i := range sales {
		sale := &sales[i]
		gk := groupKey{
			key:   KeyOf(sale),
			brand: normalize.Brand(sale.Brand),
			gross: sale.GrossAmount.StringFixed(2),
		}
		if _, exists := groups[gk]; !exists {
			order = append(order, gk)
		}
		groups[gk] = append(groups[gk], sale)
	}

	var out []DuplicateGroup
	for _, gk := range order {
		if len(groups[gk]) < 2 {
			continue
		}
		out = append(out, DuplicateGroup{Key: gk.key, Brand: gk.brand, Sales: groups[gk]})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key.SaleDate != out[j].Key.SaleDate {
			return out[i].Key.SaleDate < out[j].Key.SaleDate
		}
		return out[i].Key.Ref < out[j].Key.Ref
	})
	return out
}
