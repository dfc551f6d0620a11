package settlement

import (
	"golang-settlement-reconciler/internal/models"
)

// Stats counts prediction outcomes of a run.
type Stats struct {
	Total       int              `json:"total"`
	Predicted   int              `json:"predicted"`
	NoRule      int              `json:"noRule"`
	InvalidDate int              `json:"invalidDate"`
	ByCategory  map[Category]int `json:"byCategory"`
	ByOutcome   map[Outcome]int  `json:"-"`
}

// Run is the state of one prediction pass: it owns the installment sequencer so
// that separate runs never share parcel numbering.
type Run struct {
	predictor *Predictor
	seq       *Sequencer
	stats     Stats
}

// NewRun starts a prediction pass with a fresh sequencer.
func (p *Predictor) NewRun() *Run {
	return &Run{
		predictor: p,
		seq:       NewSequencer(),
		stats: Stats{
			ByCategory: make(map[Category]int),
			ByOutcome:  make(map[Outcome]int),
		},
	}
}

// Predict predicts one transaction and records its outcome.
func (r *Run) Predict(tx *models.Transaction) Prediction {
	pred := r.predictor.Predict(tx, r.seq)

	r.stats.Total++
	r.stats.ByCategory[pred.Category]++
	r.stats.ByOutcome[pred.Outcome]++
	switch pred.Outcome {
	case OutcomePredicted:
		r.stats.Predicted++
	case OutcomeNoRule:
		r.stats.NoRule++
	case OutcomeInvalidDate:
		r.stats.InvalidDate++
	}

	return pred
}

// Annotate predicts every transaction in order and writes PredictedSettlementDate
// and FeeAmount back onto it. Transactions without a prediction get both cleared.
func (r *Run) Annotate(txs []models.Transaction) []Prediction {
	preds := make([]Prediction, len(txs))
	for i := range txs {
		pred := r.Predict(&txs[i])
		txs[i].PredictedSettlementDate = pred.Date
		txs[i].FeeAmount = pred.FeeAmount
		preds[i] = pred
	}
	return preds
}

// Stats returns a copy of the run's counters.
func (r *Run) Stats() Stats {
	out := r.stats
	out.ByCategory = make(map[Category]int, len(r.stats.ByCategory))
	for k, v := range r.stats.ByCategory {
		out.ByCategory[k] = v
	}
	out.ByOutcome = make(map[Outcome]int, len(r.stats.ByOutcome))
	for k, v := range r.stats.ByOutcome {
		out.ByOutcome[k] = v
	}
	return out
}
