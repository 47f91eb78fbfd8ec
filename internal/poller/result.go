package poller

import (
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/diagnostics"
	"github.com/google/uuid"
)

// Value is one column of a cycle as shown to operators. Raw and Value are
// nil when the register could not be read or the sample was discarded.
type Value struct {
	Name        string   `json:"name"`
	Address     uint16   `json:"address"`
	Unit        string   `json:"unit,omitempty"`
	Raw         *uint16  `json:"raw"`
	Value       *float64 `json:"value"`
	Valid       bool     `json:"valid"`
	Multiplexed bool     `json:"multiplexed,omitempty"`
	Stale       bool     `json:"stale,omitempty"`
}

type FlagValue struct {
	Column   string `json:"column"`
	Register uint16 `json:"register"`
	Bit      uint8  `json:"bit"`
	Set      *bool  `json:"set"`
}

// CycleResult summarises one poll.
type CycleResult struct {
	ID         uuid.UUID                `json:"id"`
	StartedAt  time.Time                `json:"started_at"`
	Duration   time.Duration            `json:"duration"`
	Phase      string                   `json:"phase,omitempty"`
	Trusted    bool                     `json:"trusted"`
	Values     []Value                  `json:"values"`
	Flags      []FlagValue              `json:"flags"`
	Hypotheses []diagnostics.Hypothesis `json:"hypotheses"`
	ReadErrors []string                 `json:"read_errors,omitempty"`
	Persisted  bool                     `json:"persisted"`
	Error      string                   `json:"error,omitempty"`

	// Err is set when the cycle was aborted or the row was not written.
	Err error `json:"-"`
}

// Failed reports whether the cycle produced no data at all.
func (r *CycleResult) Failed() bool {
	return r.Err != nil && len(r.Values) == 0
}
