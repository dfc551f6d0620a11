// Package feerule resolves the registered MDR rule that applies to a transaction.
package feerule

import (
	"strings"

	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/normalize"
	"golang-settlement-reconciler/pkg/logger"
)

// Tier identifies which lookup level produced a rule.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierAcquirer
	TierModality
)

// String returns a string representation of the Tier
func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierAcquirer:
		return "acquirer"
	case TierModality:
		return "modality"
	default:
		return "none"
	}
}

// Resolver looks up fee rules by progressively looser keys. It is read-only after
// construction and safe for concurrent use.
type Resolver struct {
	rules      []models.FeeRule
	exact      map[string]int
	byAcquirer map[string]int
	byModality map[string]int
	logger     logger.Logger
}

// NewResolver indexes rules in registration order. When several rules share a key
// the first one registered wins. Invalid rules are skipped.
func NewResolver(rules []models.FeeRule) *Resolver {
	r := &Resolver{
		rules:      make([]models.FeeRule, 0, len(rules)),
		exact:      make(map[string]int),
		byAcquirer: make(map[string]int),
		byModality: make(map[string]int),
		logger:     logger.GetGlobalLogger().WithComponent("feerule"),
	}

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			r.logger.WithError(err).WithField("rule", rule.String()).Warn("Skipping invalid fee rule")
			continue
		}
		idx := len(r.rules)
		r.rules = append(r.rules, rule)

		merchant := normalize.Text(rule.MerchantID)
		acquirer := normalize.Text(rule.Acquirer)
		modality := normalize.Text(rule.Modality)
		brand := normalize.Brand(rule.Brand)

		addFirst(r.exact, key(merchant, acquirer, brand, modality), idx)
		addFirst(r.byAcquirer, key(merchant, acquirer, modality), idx)
		addFirst(r.byModality, modality, idx)
	}

	return r
}

func addFirst(m map[string]int, k string, idx int) {
	if _, exists := m[k]; !exists {
		m[k] = idx
	}
}

func key(parts ...string) string {
	return strings.Join(parts, "|")
}

func (r *Resolver) at(idx int) *models.FeeRule {
	rule := r.rules[idx]
	return &rule
}

// FindRule returns the rule for tx, or nil when no tier matches.
func (r *Resolver) FindRule(tx *models.Transaction) *models.FeeRule {
	rule, _ := r.Resolve(tx)
	return rule
}

// Resolve returns the rule for tx and the tier it was found at. Lookup order is
// (merchant, acquirer, brand, modality), then (merchant, acquirer, modality), then
// modality alone.
func (r *Resolver) Resolve(tx *models.Transaction) (*models.FeeRule, Tier) {
	if r == nil || len(r.rules) == 0 {
		return nil, TierNone
	}

	merchant := normalize.Text(tx.MerchantID)
	acquirer := normalize.Text(tx.Acquirer)
	modality := normalize.Text(tx.Modality)
	brand := normalize.Brand(tx.Brand)

	if idx, ok := r.exact[key(merchant, acquirer, brand, modality)]; ok {
		return r.at(idx), TierExact
	}
	if idx, ok := r.byAcquirer[key(merchant, acquirer, modality)]; ok {
		return r.at(idx), TierAcquirer
	}
	if idx, ok := r.byModality[modality]; ok {
		return r.at(idx), TierModality
	}
	return nil, TierNone
}
