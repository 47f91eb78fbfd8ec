package multiplexer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/registers"
)

// Sample is a shared-channel reading relabelled to the sensor it
// represents in the active phase.
type Sample struct {
	Channel int
	Phase   Phase
	Sensor  registers.Descriptor
	Raw     uint16
}

// Resolver maps (phase, channel) to a sensor. It holds no state between
// polls; the phase is recomputed from the status word every cycle.
type Resolver struct {
	statusRegister uint16
	phaseBit       uint8
	whenSet        Phase
	table          map[Phase]map[int]registers.Descriptor
	channels       []int
}

// NewResolver builds the lookup table from the catalog's multiplexer
// section. overrides replaces the source register of a sensor by name,
// which is how a site calibrates which register carries the sample.
// Names match case-insensitively since config keys arrive lowercased.
func NewResolver(m *registers.Multiplexer, overrides map[string]uint16) (*Resolver, error) {
	if m == nil {
		return nil, fmt.Errorf("catalog has no multiplexer section")
	}

	whenSet, err := ParsePhase(m.PhaseWhenSet)
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		statusRegister: m.StatusRegister,
		phaseBit:       m.PhaseBit,
		whenSet:        whenSet,
		table: map[Phase]map[int]registers.Descriptor{
			PhaseA: {},
			PhaseB: {},
		},
	}

	moved := make(map[string]uint16, len(overrides))
	for name, addr := range overrides {
		moved[strings.ToLower(name)] = addr
	}

	used := make(map[string]bool)
	for _, ch := range m.Channels {
		for phase, sensor := range map[Phase]registers.Descriptor{PhaseA: ch.PhaseA, PhaseB: ch.PhaseB} {
			key := strings.ToLower(sensor.Name)
			if addr, ok := moved[key]; ok {
				sensor.Address = addr
				used[key] = true
			}
			r.table[phase][ch.Index] = sensor
		}
		r.channels = append(r.channels, ch.Index)
	}
	sort.Ints(r.channels)

	for name := range overrides {
		if !used[strings.ToLower(name)] {
			return nil, fmt.Errorf("register override for unknown multiplexed sensor %q", name)
		}
	}

	return r, nil
}

func (r *Resolver) StatusRegister() uint16 {
	return r.statusRegister
}

// PhaseOf derives the active phase from the status word.
func (r *Resolver) PhaseOf(status uint16) Phase {
	if status&(1<<r.phaseBit) != 0 {
		return r.whenSet
	}
	return r.whenSet.Other()
}

// Resolve relabels a raw channel value. It is total over both phases and
// every raw value; ok is false only for a channel the catalog never
// declared.
func (r *Resolver) Resolve(channel int, raw uint16, phase Phase) (Sample, bool) {
	sensor, ok := r.table[phase][channel]
	if !ok {
		return Sample{Channel: channel, Phase: phase, Raw: raw}, false
	}
	return Sample{Channel: channel, Phase: phase, Sensor: sensor, Raw: raw}, true
}

// Source returns the register a channel is sampled from in phase.
func (r *Resolver) Source(channel int, phase Phase) (uint16, bool) {
	sensor, ok := r.table[phase][channel]
	return sensor.Address, ok
}

// Channels lists the declared channel indexes in ascending order.
func (r *Resolver) Channels() []int {
	return append([]int(nil), r.channels...)
}

// Sensors lists every sensor identity, channel by channel, phase A first.
func (r *Resolver) Sensors() []registers.Descriptor {
	out := make([]registers.Descriptor, 0, 2*len(r.channels))
	for _, ch := range r.channels {
		out = append(out, r.table[PhaseA][ch], r.table[PhaseB][ch])
	}
	return out
}
