package registers

import "fmt"

// Definition is the on-disk form of a register catalog (JSON or YAML).
type Definition struct {
	Profile     ProfileInfo  `json:"profile"`
	Reads       []Block      `json:"reads"`
	Registers   []Descriptor `json:"registers"`
	BitFields   []BitField   `json:"bit_fields,omitempty"`
	Multiplexer *Multiplexer `json:"multiplexer,omitempty"`
}

type ProfileInfo struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type BlockKind string

const (
	BlockHolding BlockKind = "holding"
	BlockInput   BlockKind = "input"
)

// Block is one read request issued per cycle.
type Block struct {
	Start uint16    `json:"start"`
	Count uint16    `json:"count"`
	Kind  BlockKind `json:"kind,omitempty"`
}

// Contains reports whether address lies inside the block.
func (b Block) Contains(address uint16) bool {
	return address >= b.Start && uint32(address) < uint32(b.Start)+uint32(b.Count)
}

// Range bounds the raw value (in the descriptor's signedness) that is
// considered valid.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Bounds is a plausibility window on the engineering value.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Formula is an explicit per-sensor calibration: (raw - Zero) / Divisor.
type Formula struct {
	Zero    float64 `json:"zero"`
	Divisor float64 `json:"divisor"`
}

// Descriptor describes one register and how its raw word becomes an
// engineering value. Without a formula the value is raw*Scale + Offset.
type Descriptor struct {
	Address    uint16   `json:"address"`
	Name       string   `json:"name"`
	Unit       string   `json:"unit,omitempty"`
	ValidRange *Range   `json:"valid_range,omitempty"`
	Signed     bool     `json:"signed,omitempty"`
	Scale      float64  `json:"scale,omitempty"`
	Offset     float64  `json:"offset,omitempty"`
	Formula    *Formula `json:"formula,omitempty"`
	Plausible  *Bounds  `json:"plausible,omitempty"`
	// Reference names another register carrying the controller's own
	// computation of the same quantity.
	Reference string `json:"reference,omitempty"`
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s@%d", d.Name, d.Address)
}

// BitField names one bit of a register.
type BitField struct {
	Register uint16 `json:"register"`
	Bit      uint8  `json:"bit"`
	Label    string `json:"label"`
	Fault    bool   `json:"fault,omitempty"`
}

// ColumnName is the persisted column of the flag, e.g. Bit5_Defrost.
func (f BitField) ColumnName() string {
	return fmt.Sprintf("Bit%d_%s", f.Bit, f.Label)
}

// Multiplexer describes the time-shared analog channels and the status bit
// telling which phase is active.
type Multiplexer struct {
	StatusRegister uint16    `json:"status_register"`
	PhaseBit       uint8     `json:"phase_bit"`
	PhaseWhenSet   string    `json:"phase_when_set"`
	Channels       []Channel `json:"channels"`
}

// Channel binds one shared channel to a sensor per phase. Each sensor's
// Address is the register the channel is sampled from in that phase.
type Channel struct {
	Index  int        `json:"channel"`
	PhaseA Descriptor `json:"phase_a"`
	PhaseB Descriptor `json:"phase_b"`
}
