package conductor

import (
	"math"
	"sync"
	"sync/atomic"
)

// SymbolState is the Conductor's in-process runtime state for one
// symbol, mirroring the teacher's PairState: a coarse state-machine
// field guarded by a mutex, plus an atomic float64 cache of the net
// position for lock-free dashboard reads. The atomic copy is a
// display cache only - every monetary decision is made against the
// ledger's decimal.Decimal row, never against this field.
type SymbolState struct {
	Symbol string

	mu    sync.Mutex
	state State

	netPositionBits uint64 // atomic: float64 bits, display only
}

// NewSymbolState returns a SymbolState starting in StateFlat.
func NewSymbolState(symbol string) *SymbolState {
	return &SymbolState{Symbol: symbol, state: StateFlat}
}

// State returns the current coarse state under the mutex.
func (s *SymbolState) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves to next if the transition is valid, returning false
// otherwise (the caller should treat an invalid transition as a bug,
// not a recoverable condition - it means two dispatchers raced).
func (s *SymbolState) Transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, next) {
		return false
	}
	s.state = next
	return true
}

// SetNetPositionDisplay updates the lock-free display cache.
func (s *SymbolState) SetNetPositionDisplay(v float64) {
	atomic.StoreUint64(&s.netPositionBits, math.Float64bits(v))
}

// NetPositionDisplay reads the lock-free display cache.
func (s *SymbolState) NetPositionDisplay() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.netPositionBits))
}
