package settlement

import (
	"strings"
	"sync"
	"time"

	"golang-settlement-reconciler/internal/calendar"
)

// SequenceKey identifies the original sale an installment belongs to.
type SequenceKey struct {
	TransactionRef string
	SaleDate       string
}

// NewSequenceKey builds the key for a reference and sale date.
func NewSequenceKey(ref string, saleDate time.Time) SequenceKey {
	return SequenceKey{
		TransactionRef: strings.TrimSpace(ref),
		SaleDate:       calendar.FormatISO(saleDate),
	}
}

// Sequencer hands out zero-based installment indices per original sale. Installments
// must be presented in parcel order and exactly once each; nothing is reordered or
// checked. A Sequencer belongs to one prediction run.
type Sequencer struct {
	mu   sync.Mutex
	next map[SequenceKey]int
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{next: make(map[SequenceKey]int)}
}

// NextIndex returns 0 on the first call for a key, 1 on the second, and so on.
func (s *Sequencer) NextIndex(key SequenceKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.next[key]
	s.next[key] = idx + 1
	return idx
}
