package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/efeuentertainment/vigiclient/internal/types"
)

// CommandFrame is the decoded view of an inbound frame.
type CommandFrame struct {
	Subtype byte
	Raw16   []uint16
	Raw8    []uint8
	Bools   []byte // packed, bit = index mod 8
	Camera  uint8
	Text    []byte // text subtype only
}

// Bool returns boolean command i from the packed bank.
func (f *CommandFrame) Bool(i int) bool {
	return f.Bools[i/8]&(1<<(i%8)) != 0
}

// TelemetryFrame holds the values packed into an outbound frame.
type TelemetryFrame struct {
	Raw16    []uint16
	Raw8     []uint8
	Bools    []bool
	Camera   uint8
	Values32 []float64
	Values16 []float64
	Values8  []float64
}

// Codec maps frames to typed values for one profile.
type Codec struct {
	layout Layout

	cmd16 []types.Scale
	cmd8  []types.Scale
	val32 []types.Scale
	val16 []types.Scale
	val8  []types.Scale
}

func NewCodec(p *types.Profile) *Codec {
	c := &Codec{layout: LayoutOf(p)}
	for _, d := range p.Commands16 {
		c.cmd16 = append(c.cmd16, d.Scale)
	}
	for _, d := range p.Commands8 {
		c.cmd8 = append(c.cmd8, d.Scale)
	}
	for _, d := range p.Values32 {
		c.val32 = append(c.val32, d.Scale)
	}
	for _, d := range p.Values16 {
		c.val16 = append(c.val16, d.Scale)
	}
	for _, d := range p.Values8 {
		c.val8 = append(c.val8, d.Scale)
	}
	return c
}

func (c *Codec) Layout() Layout {
	return c.layout
}

// DecodeCommandFrame validates the marker and unpacks a status frame.
// Decoding is all-or-nothing: any error leaves nothing to apply.
func (c *Codec) DecodeCommandFrame(data []byte) (*CommandFrame, error) {
	if len(data) < MarkerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptFrame, len(data))
	}
	if data[0] != Marker {
		return nil, fmt.Errorf("%w: marker 0x%02X", ErrCorruptFrame, data[0])
	}

	switch data[1] {
	case SubtypeText:
		text := make([]byte, len(data)-MarkerSize)
		copy(text, data[MarkerSize:])
		return &CommandFrame{Subtype: SubtypeText, Text: text}, nil
	case SubtypeStatus:
	default:
		return nil, fmt.Errorf("%w: subtype 0x%02X", ErrCorruptFrame, data[1])
	}

	if want := c.layout.CommandFrameSize(); len(data) != want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrLengthMismatch, want, len(data))
	}

	f := &CommandFrame{
		Subtype: SubtypeStatus,
		Raw16:   make([]uint16, c.layout.Commands16),
		Raw8:    make([]uint8, c.layout.Commands8),
		Bools:   make([]byte, BoolBytes(c.layout.Commands1)),
	}

	offset := MarkerSize
	for i := range f.Raw16 {
		f.Raw16[i] = binary.LittleEndian.Uint16(data[offset : offset+2])
		offset += 2
	}
	offset += copy(f.Raw8, data[offset:offset+len(f.Raw8)])
	offset += copy(f.Bools, data[offset:offset+len(f.Bools)])
	f.Camera = data[offset]

	return f, nil
}

// EncodeCommandFrame is the control station side of the codec.
func (c *Codec) EncodeCommandFrame(f *CommandFrame) []byte {
	data := make([]byte, c.layout.CommandFrameSize())
	data[0] = Marker
	data[1] = SubtypeStatus
	c.putCommands(data[MarkerSize:], f.Raw16, f.Raw8, f.Bools, f.Camera)
	return data
}

// EncodeTelemetryFrame packs echoed commands and sensor slots into a
// buffer of TelemetryFrameSize bytes. Missing values are sent as raw zero.
func (c *Codec) EncodeTelemetryFrame(t *TelemetryFrame) []byte {
	data := make([]byte, c.layout.TelemetryFrameSize())
	data[0] = Marker
	data[1] = SubtypeTelemetry

	bank := make([]byte, BoolBytes(c.layout.Commands1))
	for i, b := range t.Bools {
		if b && i < c.layout.Commands1 {
			bank[i/8] |= 1 << (i % 8)
		}
	}
	offset := MarkerSize + c.putCommands(data[MarkerSize:], t.Raw16, t.Raw8, bank, t.Camera)

	for i, s := range c.val32 {
		binary.LittleEndian.PutUint32(data[offset:offset+4], uint32(Quantize(at(t.Values32, i), Full32, s)))
		offset += 4
	}
	for i, s := range c.val16 {
		binary.LittleEndian.PutUint16(data[offset:offset+2], uint16(Quantize(at(t.Values16, i), Full16, s)))
		offset += 2
	}
	for i, s := range c.val8 {
		data[offset] = uint8(Quantize(at(t.Values8, i), Full8, s))
		offset++
	}

	return data
}

// DecodeTelemetryFrame is the control station side of the codec.
func (c *Codec) DecodeTelemetryFrame(data []byte) (*TelemetryFrame, error) {
	if len(data) < MarkerSize || data[0] != Marker || data[1] != SubtypeTelemetry {
		return nil, ErrCorruptFrame
	}
	if want := c.layout.TelemetryFrameSize(); len(data) != want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrLengthMismatch, want, len(data))
	}

	t := &TelemetryFrame{
		Raw16:    make([]uint16, c.layout.Commands16),
		Raw8:     make([]uint8, c.layout.Commands8),
		Bools:    make([]bool, c.layout.Commands1),
		Values32: make([]float64, c.layout.Values32),
		Values16: make([]float64, c.layout.Values16),
		Values8:  make([]float64, c.layout.Values8),
	}

	offset := MarkerSize
	for i := range t.Raw16 {
		t.Raw16[i] = binary.LittleEndian.Uint16(data[offset : offset+2])
		offset += 2
	}
	offset += copy(t.Raw8, data[offset:offset+len(t.Raw8)])
	for i := range t.Bools {
		t.Bools[i] = data[offset+i/8]&(1<<(i%8)) != 0
	}
	offset += BoolBytes(c.layout.Commands1)
	t.Camera = data[offset]
	offset++

	for i, s := range c.val32 {
		t.Values32[i] = Dequantize(uint64(binary.LittleEndian.Uint32(data[offset:offset+4])), Full32, s)
		offset += 4
	}
	for i, s := range c.val16 {
		t.Values16[i] = Dequantize(uint64(binary.LittleEndian.Uint16(data[offset:offset+2])), Full16, s)
		offset += 2
	}
	for i, s := range c.val8 {
		t.Values8[i] = Dequantize(uint64(data[offset]), Full8, s)
		offset++
	}

	return t, nil
}

// Float16 maps raw 16-bit command i to its floating value.
func (c *Codec) Float16(i int, raw uint16) float64 {
	return Dequantize(uint64(raw), Full16, c.cmd16[i])
}

// Float8 maps raw 8-bit command i to its floating value.
func (c *Codec) Float8(i int, raw uint8) float64 {
	return Dequantize(uint64(raw), Full8, c.cmd8[i])
}

// Raw16 re-quantizes an applied value of 16-bit command i.
func (c *Codec) Raw16(i int, v float64) uint16 {
	return uint16(Quantize(v, Full16, c.cmd16[i]))
}

// Raw8 re-quantizes an applied value of 8-bit command i.
func (c *Codec) Raw8(i int, v float64) uint8 {
	return uint8(Quantize(v, Full8, c.cmd8[i]))
}

// putCommands writes the shared command block and returns its size.
func (c *Codec) putCommands(dst []byte, raw16 []uint16, raw8 []uint8, bank []byte, camera uint8) int {
	offset := 0
	for i := 0; i < c.layout.Commands16; i++ {
		var v uint16
		if i < len(raw16) {
			v = raw16[i]
		}
		binary.LittleEndian.PutUint16(dst[offset:offset+2], v)
		offset += 2
	}
	for i := 0; i < c.layout.Commands8; i++ {
		if i < len(raw8) {
			dst[offset] = raw8[i]
		}
		offset++
	}
	for i := 0; i < BoolBytes(c.layout.Commands1); i++ {
		if i < len(bank) {
			dst[offset] = bank[i]
		}
		offset++
	}
	dst[offset] = camera
	return offset + CameraSize
}

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}
