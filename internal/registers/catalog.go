package registers

import (
	"fmt"
	"sort"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
)

// Catalog is the immutable register map of one device profile.
type Catalog struct {
	profile     ProfileInfo
	reads       []Block
	descriptors []Descriptor
	byAddress   map[uint16]Descriptor
	byName      map[string]Descriptor
	bitFields   map[uint16][]BitField
	multiplexer *Multiplexer
}

// NewCatalog checks the definition and builds the lookup tables.
func NewCatalog(def Definition) (*Catalog, error) {
	c := &Catalog{
		profile:     def.Profile,
		reads:       append([]Block(nil), def.Reads...),
		byAddress:   make(map[uint16]Descriptor, len(def.Registers)),
		byName:      make(map[string]Descriptor, len(def.Registers)),
		bitFields:   make(map[uint16][]BitField),
		multiplexer: def.Multiplexer,
	}

	for i := range c.reads {
		if c.reads[i].Kind == "" {
			c.reads[i].Kind = BlockHolding
		}
		if c.reads[i].Count == 0 {
			return nil, fmt.Errorf("read block at %d has zero count", c.reads[i].Start)
		}
	}

	for _, d := range def.Registers {
		if d.Name == "" {
			return nil, fmt.Errorf("register %d has no name", d.Address)
		}
		if _, dup := c.byAddress[d.Address]; dup {
			return nil, fmt.Errorf("duplicate register address %d", d.Address)
		}
		if err := c.addName(d); err != nil {
			return nil, err
		}
		c.byAddress[d.Address] = d
		c.descriptors = append(c.descriptors, d)
	}
	sort.Slice(c.descriptors, func(i, j int) bool {
		return c.descriptors[i].Address < c.descriptors[j].Address
	})

	seen := make(map[string]bool)
	for _, f := range def.BitFields {
		if f.Bit > 15 {
			return nil, fmt.Errorf("bit field %s: bit %d out of range", f.Label, f.Bit)
		}
		if _, ok := c.byAddress[f.Register]; !ok {
			return nil, fmt.Errorf("bit field %s: %w %d", f.Label, types.ErrUnknownRegister, f.Register)
		}
		key := fmt.Sprintf("%d/%d", f.Register, f.Bit)
		if seen[key] {
			return nil, fmt.Errorf("bit %d of register %d declared twice", f.Bit, f.Register)
		}
		seen[key] = true
		c.bitFields[f.Register] = append(c.bitFields[f.Register], f)
	}
	for addr := range c.bitFields {
		fields := c.bitFields[addr]
		sort.Slice(fields, func(i, j int) bool { return fields[i].Bit < fields[j].Bit })
	}

	if m := c.multiplexer; m != nil {
		if m.PhaseBit > 15 {
			return nil, fmt.Errorf("multiplexer phase bit %d out of range", m.PhaseBit)
		}
		if m.PhaseWhenSet != "A" && m.PhaseWhenSet != "B" {
			return nil, fmt.Errorf("multiplexer phase_when_set must be A or B, got %q", m.PhaseWhenSet)
		}
		if _, ok := c.byAddress[m.StatusRegister]; !ok {
			return nil, fmt.Errorf("multiplexer status: %w %d", types.ErrUnknownRegister, m.StatusRegister)
		}
		indexes := make(map[int]bool)
		for _, ch := range m.Channels {
			if indexes[ch.Index] {
				return nil, fmt.Errorf("multiplexer channel %d declared twice", ch.Index)
			}
			indexes[ch.Index] = true
			for _, s := range []Descriptor{ch.PhaseA, ch.PhaseB} {
				if s.Name == "" {
					return nil, fmt.Errorf("multiplexer channel %d has an unnamed sensor", ch.Index)
				}
				if err := c.addName(s); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, d := range c.byName {
		if d.Reference == "" {
			continue
		}
		if _, ok := c.byName[d.Reference]; !ok {
			return nil, fmt.Errorf("%s references unknown register %q", d.Name, d.Reference)
		}
	}

	return c, nil
}

func (c *Catalog) addName(d Descriptor) error {
	if _, dup := c.byName[d.Name]; dup {
		return fmt.Errorf("duplicate register name %q", d.Name)
	}
	c.byName[d.Name] = d
	return nil
}

func (c *Catalog) Profile() ProfileInfo {
	return c.profile
}

// Reads returns the blocks polled every cycle.
func (c *Catalog) Reads() []Block {
	return append([]Block(nil), c.reads...)
}

// Lookup returns the descriptor registered at address.
func (c *Catalog) Lookup(address uint16) (Descriptor, error) {
	d, ok := c.byAddress[address]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %d", types.ErrUnknownRegister, address)
	}
	return d, nil
}

// ByName finds a register or multiplexed sensor by name.
func (c *Catalog) ByName(name string) (Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Descriptors lists the fixed-address registers ordered by address.
func (c *Catalog) Descriptors() []Descriptor {
	return append([]Descriptor(nil), c.descriptors...)
}

// FlagRegisters lists the registers with declared bits in ascending order.
func (c *Catalog) FlagRegisters() []uint16 {
	addrs := make([]uint16, 0, len(c.bitFields))
	for addr := range c.bitFields {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// BitFields lists every declared flag ordered by register, then bit.
func (c *Catalog) BitFields() []BitField {
	var out []BitField
	for _, addr := range c.FlagRegisters() {
		out = append(out, c.bitFields[addr]...)
	}
	return out
}

// Multiplexer returns nil when the device has no shared channels.
func (c *Catalog) Multiplexer() *Multiplexer {
	return c.multiplexer
}

// Bit is one decoded flag.
type Bit struct {
	Index uint8
	Label string
	Set   bool
	Fault bool
}

// ColumnName matches BitField.ColumnName.
func (b Bit) ColumnName() string {
	return BitField{Bit: b.Index, Label: b.Label}.ColumnName()
}

// DecodeBits extracts the declared flags of address from value. Bits
// without a declaration are omitted; the result is ordered by bit index.
func (c *Catalog) DecodeBits(value uint16, address uint16) []Bit {
	fields := c.bitFields[address]
	out := make([]Bit, 0, len(fields))
	for _, f := range fields {
		out = append(out, Bit{
			Index: f.Bit,
			Label: f.Label,
			Set:   value&(1<<f.Bit) != 0,
			Fault: f.Fault,
		})
	}
	return out
}
