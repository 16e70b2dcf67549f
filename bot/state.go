package bot

import (
	"fmt"

	"github.com/dnldd/candlebot/exchange"
	"github.com/dnldd/candlebot/shared"
	"go.uber.org/atomic"
)

// State represents the lifecycle state of a bot.
type State int

const (
	Yet State = iota
	Doing
	Done
)

// String stringifies the provided state.
func (s State) String() string {
	switch s {
	case Yet:
		return "yet"
	case Doing:
		return "doing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its wire name.
func (s State) MarshalText() ([]byte, error) {
	switch s {
	case Yet, Doing, Done:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("%w: unknown state %d", shared.ErrValidation, int(s))
	}
}

// UnmarshalText decodes the state from its wire name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "yet":
		*s = Yet
	case "doing":
		*s = Doing
	case "done":
		*s = Done
	default:
		return fmt.Errorf("%w: unknown state %q", shared.ErrValidation, string(text))
	}

	return nil
}

// Status is the observable status of a bot.
type Status struct {
	Progress int    `json:"progress"`
	State    State  `json:"process"`
	Err      string `json:"error,omitempty"`
	// Summary reports the run's round trips once a run with an exchange is done.
	Summary *exchange.Summary `json:"summary,omitempty"`
}

// StopToken is the cooperative cancellation token of a bot run. The run observes it once
// per tick.
type StopToken struct {
	requested atomic.Bool
}

// Request asks the run holding the token to stop after its current tick. It reports
// whether this call made the request.
func (t *StopToken) Request() bool {
	return t.requested.CAS(false, true)
}

// Requested returns whether a stop was requested.
func (t *StopToken) Requested() bool {
	return t.requested.Load()
}
