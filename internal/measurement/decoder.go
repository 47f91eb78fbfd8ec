package measurement

import (
	"github.com/KevinKickass/OpenHeatTelemetry/internal/registers"
)

// Measurement is one decoded register of the current cycle.
type Measurement struct {
	Descriptor registers.Descriptor
	Raw        uint16
	Value      float64
	Valid      bool
}

// Name is the column the measurement is persisted under.
func (m Measurement) Name() string {
	return m.Descriptor.Name
}

// ToUnsigned folds a two's-complement word into 0..65535.
func ToUnsigned(word int16) uint16 {
	return uint16(word)
}

// ToSigned is the inverse of ToUnsigned: values >= 32768 become value-65536.
func ToSigned(value uint16) int16 {
	return int16(value)
}

// RawView is the raw word in the descriptor's signedness.
func RawView(raw uint16, d registers.Descriptor) int {
	if d.Signed {
		return int(ToSigned(raw))
	}
	return int(raw)
}

// Decode converts raw into the descriptor's engineering value. A raw
// value outside the valid range only clears Valid.
func Decode(raw uint16, d registers.Descriptor) Measurement {
	view := float64(RawView(raw, d))

	var value float64
	if f := d.Formula; f != nil && f.Divisor != 0 {
		value = (view - f.Zero) / f.Divisor
	} else {
		scale := d.Scale
		if scale == 0 {
			scale = 1.0
		}
		value = view*scale + d.Offset
	}

	valid := true
	if r := d.ValidRange; r != nil {
		valid = r.Contains(RawView(raw, d))
	}

	return Measurement{
		Descriptor: d,
		Raw:        raw,
		Value:      value,
		Valid:      valid,
	}
}
