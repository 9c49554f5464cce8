package main

import (
	"errors"
	"fmt"
	"sync"
)

// ============================================================================
// Double-buffered sample banks
// ============================================================================
//
// The hot path (sensor edges) appends millisecond timestamps to whichever
// bank currently holds the active role. Once per processing cycle the roles
// flip: the active bank becomes settled (read-only for analysis) and the
// previously settled bank is reset and becomes the new active bank.
//
// Concurrency model:
//   - one producer goroutine calling record()
//   - one consumer goroutine calling switchBanks() and reading the settled
//     snapshot between switches
//
// A single mutex guards the append and the role flip. Both hold it for a
// handful of field operations only; nothing under the lock iterates samples.
// ============================================================================

// ErrBankFull is returned when an append would exceed bank capacity.
// The event is dropped and the bank set's dropped counter is incremented,
// so the loss stays observable to the consumer.
var ErrBankFull = errors.New("sample bank full")

// sampleBank is one half of the double buffer: a fixed-capacity ordered
// sequence of relative-clock timestamps plus a write cursor.
type sampleBank struct {
	entries []uint64
	cursor  int
}

func (b *sampleBank) append(ts uint64) error {
	if b.cursor == len(b.entries) {
		return ErrBankFull
	}
	b.entries[b.cursor] = ts
	b.cursor++
	return nil
}

// reset makes prior entries logically absent. It does not clear them.
func (b *sampleBank) reset() {
	b.cursor = 0
}

// snapshot returns a read-only view of the recorded timestamps.
// Only valid while the bank holds the settled role.
func (b *sampleBank) snapshot() []uint64 {
	return b.entries[:b.cursor]
}

// settledView is the consumer-facing result of a bank switch.
type settledView struct {
	// Samples are the timestamps recorded during the cycle that just ended,
	// in recording order. Valid until the next switch.
	Samples []uint64

	// PrevLast is the last timestamp recorded before the *previous* switch,
	// the reference point for speed math across the cycle boundary.
	// Only meaningful when HasPrev is true; an idle cycle clears it.
	PrevLast uint64
	HasPrev  bool

	// Dropped is the cumulative count of events lost to bank overflow.
	Dropped uint64
}

// bankSet owns exactly two sample banks and the role index selecting the
// active one. No other component holds a persistent reference into bank
// storage.
type bankSet struct {
	mu     sync.Mutex
	banks  [2]sampleBank
	active int

	dropped uint64

	// last timestamp of the active bank captured at the most recent switch
	prevLast    uint64
	prevLastSet bool
}

func newBankSet(capacity int) *bankSet {
	if capacity <= 0 {
		panic(fmt.Sprintf("bank capacity must be positive, got %d", capacity))
	}
	s := &bankSet{}
	for i := range s.banks {
		s.banks[i].entries = make([]uint64, capacity)
	}
	return s
}

// record appends one timestamp to the active bank.
// Returns false when the bank is full and the event was dropped.
func (s *bankSet) record(ts uint64) bool {
	s.mu.Lock()
	err := s.banks[s.active].append(ts)
	if err != nil {
		s.dropped++
	}
	s.mu.Unlock()
	return err == nil
}

// switchBanks atomically flips the active/settled roles.
//
// Under the lock it captures the last timestamp of the outgoing active bank,
// flips the role index, and resets the incoming active bank. The settled
// snapshot itself is taken after the lock is released; at that point only
// the consumer can touch the settled bank.
//
// The returned view carries the reference timestamp captured at the
// *previous* switch, i.e. the last event that precedes view.Samples.
func (s *bankSet) switchBanks() settledView {
	s.mu.Lock()

	carried, carriedSet := s.prevLast, s.prevLastSet

	out := &s.banks[s.active]
	if out.cursor > 0 {
		s.prevLast = out.entries[out.cursor-1]
		s.prevLastSet = true
	} else {
		s.prevLastSet = false
	}

	s.active = 1 - s.active
	s.banks[s.active].reset()
	dropped := s.dropped

	s.mu.Unlock()

	return settledView{
		Samples:  s.banks[1-s.active].snapshot(),
		PrevLast: carried,
		HasPrev:  carriedSet,
		Dropped:  dropped,
	}
}

// activeCount reports how many timestamps the active bank currently holds.
func (s *bankSet) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banks[s.active].cursor
}

// droppedCount reports the cumulative overflow counter.
func (s *bankSet) droppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
