// Package validator sits between a raw backend response and the
// orchestrator. It schema-checks the output, retries generation with a
// reinforced instruction payload while retries remain, and otherwise
// degrades: confidence capped, traceability downgraded, and the full
// item set preserved. No item is ever dropped.
package validator

// State of the retry-then-degrade machine.
type State int

const (
	// StateValid: the schema check passed. Terminal.
	StateValid State = iota
	// StateRetrying: schema failed, retries remain and a regeneration
	// callback is available.
	StateRetrying
	// StateDegraded: retries exhausted, no callback supplied, or an
	// unexpected panic during validation. Terminal.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "VALID"
	case StateRetrying:
		return "RETRYING"
	default:
		return "DEGRADED"
	}
}

// MaxRetries is the retry ceiling beyond the first validation.
const MaxRetries = 2

// DegradedConfidenceCap is the hard confidence ceiling applied on the
// degradation path.
const DegradedConfidenceCap = 60

// Next is the pure transition function: given the attempt number, the
// availability of a regeneration callback and the schema result, it
// returns the next state. Keeping it pure makes the retry-then-degrade
// logic testable without timers or network.
func Next(attempt int, hasRegen, schemaOK bool) State {
	if schemaOK {
		return StateValid
	}
	if hasRegen && attempt < MaxRetries {
		return StateRetrying
	}
	return StateDegraded
}
