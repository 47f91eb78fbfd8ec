// Package diagnostics turns one cycle's readings into ranked, qualitative
// fault hypotheses for operators. Classification is pure: the same input
// always yields the same hypotheses in the same order.
package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/measurement"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/multiplexer"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/registers"
)

type Severity int

const (
	SeverityCritical Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	CodeDisconnected        = "SENSOR_DISCONNECTED"
	CodeOpenCircuit         = "OPEN_CIRCUIT"
	CodeRawTooLow           = "RAW_TOO_LOW"
	CodeRawTooHigh          = "RAW_TOO_HIGH"
	CodeCalibrationDrift    = "CALIBRATION_DRIFT"
	CodeComputationMismatch = "COMPUTATION_MISMATCH"
	CodePhaseStuck          = "MULTIPLEXER_PHASE_STUCK"
	CodeStaleSample         = "STALE_SAMPLE"
	CodeControllerFault     = "CONTROLLER_FAULT"
)

const (
	MessageDisconnected = "sensor disconnected or multiplexer not switching"
	MessageOpenCircuit  = "sensor open circuit: cable break or sensor not connected"
	MessageRawTooLow    = "raw value below valid range: short circuit or wrong sensor type"
	MessageRawTooHigh   = "raw value above valid range: cable break or defective sensor"
	MessageDrift        = "calibration drift: in-range raw value gives an implausible reading"
	MessageStale        = "shared channel sample may be stale: no phase transition since the previous poll"
)

// referenceTolerance is the largest accepted difference between the host
// decode and the controller's own computation.
const referenceTolerance = 1.0

type Hypothesis struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Sensor   string   `json:"sensor,omitempty"`
	Message  string   `json:"message"`
}

// Reading is one decoded value as seen by the heuristics.
type Reading struct {
	Measurement measurement.Measurement
	Multiplexed bool
	Stale       bool
	// Reference is the controller's own value for the same quantity.
	Reference *float64
}

// Flag is a decoded bit of a status or error register.
type Flag struct {
	Register uint16
	Bit      registers.Bit
}

type Input struct {
	Phase      multiplexer.Phase
	PhaseKnown bool
	Readings   []Reading
	Flags      []Flag
}

// Classify ranks hypotheses by severity, then sensor, then code.
func Classify(in Input) []Hypothesis {
	var out []Hypothesis

	for _, r := range in.Readings {
		out = append(out, classifyReading(r)...)
	}

	if h, ok := phaseStuck(in); ok {
		out = append(out, h)
	}

	for _, f := range in.Flags {
		if f.Bit.Fault && f.Bit.Set {
			out = append(out, Hypothesis{
				Code:     CodeControllerFault,
				Severity: SeverityCritical,
				Sensor:   f.Bit.Label,
				Message:  fmt.Sprintf("controller reports %s (register %d bit %d)", f.Bit.Label, f.Register, f.Bit.Index),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity < out[j].Severity
		}
		if out[i].Sensor != out[j].Sensor {
			return out[i].Sensor < out[j].Sensor
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func classifyReading(r Reading) []Hypothesis {
	m := r.Measurement
	d := m.Descriptor
	name := d.Name

	var out []Hypothesis
	if r.Stale {
		out = append(out, Hypothesis{Code: CodeStaleSample, Severity: SeverityInfo, Sensor: name, Message: MessageStale})
	}

	switch {
	case m.Raw == 0 && sentinel(r, 0):
		return append(out, Hypothesis{Code: CodeDisconnected, Severity: SeverityCritical, Sensor: name, Message: MessageDisconnected})
	case m.Raw == math.MaxUint16 && !d.Signed && sentinel(r, math.MaxUint16):
		return append(out, Hypothesis{Code: CodeOpenCircuit, Severity: SeverityCritical, Sensor: name, Message: MessageOpenCircuit})
	}

	if rng := d.ValidRange; rng != nil && !m.Valid {
		raw := measurement.RawView(m.Raw, d)
		if raw < rng.Min {
			out = append(out, Hypothesis{Code: CodeRawTooLow, Severity: SeverityWarning, Sensor: name,
				Message: fmt.Sprintf("%s (raw %d < %d)", MessageRawTooLow, raw, rng.Min)})
		} else {
			out = append(out, Hypothesis{Code: CodeRawTooHigh, Severity: SeverityWarning, Sensor: name,
				Message: fmt.Sprintf("%s (raw %d > %d)", MessageRawTooHigh, raw, rng.Max)})
		}
		return out
	}

	if p := d.Plausible; p != nil && !p.Contains(m.Value) {
		out = append(out, Hypothesis{Code: CodeCalibrationDrift, Severity: SeverityWarning, Sensor: name,
			Message: fmt.Sprintf("%s (%.2f %s outside %.0f..%.0f)", MessageDrift, m.Value, d.Unit, p.Min, p.Max)})
	}

	if r.Reference != nil && math.Abs(m.Value-*r.Reference) > referenceTolerance {
		out = append(out, Hypothesis{Code: CodeComputationMismatch, Severity: SeverityWarning, Sensor: name,
			Message: fmt.Sprintf("host decode %.2f and controller value %.2f differ by more than %.1f", m.Value, *r.Reference, referenceTolerance)})
	}

	return out
}

// sentinel reports whether raw can only mean "nothing connected" for this
// reading: always on shared channels, otherwise only when the value lies
// outside the declared range.
func sentinel(r Reading, raw int) bool {
	if r.Multiplexed {
		return true
	}
	rng := r.Measurement.Descriptor.ValidRange
	return rng != nil && !rng.Contains(raw)
}

// phaseStuck fires when every shared-channel sensor of the active phase
// reads zero.
func phaseStuck(in Input) (Hypothesis, bool) {
	if !in.PhaseKnown {
		return Hypothesis{}, false
	}
	count := 0
	for _, r := range in.Readings {
		if !r.Multiplexed {
			continue
		}
		if r.Measurement.Raw != 0 {
			return Hypothesis{}, false
		}
		count++
	}
	if count < 2 {
		return Hypothesis{}, false
	}
	return Hypothesis{
		Code:     CodePhaseStuck,
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("multiplexer not switching: all %d sensors of phase %s read 0", count, in.Phase),
	}, true
}
