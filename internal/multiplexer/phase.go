package multiplexer

import (
	"fmt"
	"time"
)

// Phase is the time slot of the analog multiplexer.
type Phase int

const (
	PhaseA Phase = iota
	PhaseB
)

func (p Phase) String() string {
	switch p {
	case PhaseA:
		return "A"
	case PhaseB:
		return "B"
	default:
		return "UNKNOWN"
	}
}

// Other returns the opposite phase.
func (p Phase) Other() Phase {
	if p == PhaseA {
		return PhaseB
	}
	return PhaseA
}

func ParsePhase(s string) (Phase, error) {
	switch s {
	case "A", "a":
		return PhaseA, nil
	case "B", "b":
		return PhaseB, nil
	default:
		return PhaseA, fmt.Errorf("invalid multiplexer phase %q", s)
	}
}

// TrustPolicy decides whether a shared-channel sample can be relied on.
// A sample is trusted when the phase changed since the previous poll, or
// when the poll interval is known to exceed the hardware settle time.
// A zero SettleTime means the settle time is unknown.
type TrustPolicy struct {
	Interval   time.Duration
	SettleTime time.Duration
}

func (t TrustPolicy) settled() bool {
	return t.SettleTime > 0 && t.Interval > t.SettleTime
}

// Trusted reports whether samples taken in current are fresh. previous is
// nil on the first poll.
func (t TrustPolicy) Trusted(previous *Phase, current Phase) bool {
	if t.settled() {
		return true
	}
	return previous != nil && *previous != current
}
