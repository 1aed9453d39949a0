package conductor

// State names the lifecycle phase of a symbol's hedge loop.
type State string

const (
	StateFlat        State = "FLAT"
	StateAccumulating State = "ACCUMULATING"
	StatePendingHedge State = "PENDING_HEDGE"
	StateError       State = "ERROR"
)

// ValidTransitions enumerates the transitions the Conductor may make,
// the hedge-engine analogue of the teacher's pair state machine.
var ValidTransitions = map[State][]State{
	StateFlat:         {StateAccumulating},
	StateAccumulating: {StatePendingHedge, StateFlat},
	StatePendingHedge: {StateFlat, StateAccumulating, StateError},
	StateError:        {StateFlat},
}

// CanTransition reports whether from->to is an allowed transition.
func CanTransition(from, to State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
