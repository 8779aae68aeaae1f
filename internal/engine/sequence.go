package engine

import "sync/atomic"

// Sequencer hands out strictly increasing order ids. The first id is
// start+1, so id 0 never names an order.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer creates a sequencer whose last issued id is start.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next order id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset sets the last issued id. Only used when restoring from the journal.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
