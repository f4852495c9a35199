// Package stub records hardware writes in memory. It backs dry runs and
// tests.
package stub

import (
	"fmt"
	"sync"

	"github.com/efeuentertainment/vigiclient/internal/hardware"
)

// Op is one recorded hardware call.
type Op struct {
	Call  string
	Index int
	Value float64
}

func (o Op) String() string {
	return fmt.Sprintf("%s(%d, %g)", o.Call, o.Index, o.Value)
}

// Pins records direct pin calls and keeps the last state of every pin.
type Pins struct {
	mu      sync.Mutex
	ops     []Op
	Modes   map[int]hardware.Mode
	Digital map[int]bool
	PWM     map[int]int
	Servo   map[int]int
	Freq    map[int]int
	// Fail makes every call return ErrHardwareWrite when set.
	Fail bool
}

func NewPins() *Pins {
	return &Pins{
		Modes:   make(map[int]hardware.Mode),
		Digital: make(map[int]bool),
		PWM:     make(map[int]int),
		Servo:   make(map[int]int),
		Freq:    make(map[int]int),
	}
}

func (p *Pins) SetMode(pin int, mode hardware.Mode) error {
	return p.record("SetMode", pin, float64(mode), func() { p.Modes[pin] = mode })
}

func (p *Pins) WriteDigital(pin int, high bool) error {
	v := 0.0
	if high {
		v = 1
	}
	return p.record("WriteDigital", pin, v, func() {
		p.Modes[pin] = hardware.ModeOutput
		p.Digital[pin] = high
	})
}

func (p *Pins) SetPWMFrequency(pin int, hz int) error {
	return p.record("SetPWMFrequency", pin, float64(hz), func() { p.Freq[pin] = hz })
}

func (p *Pins) WritePWM(pin int, duty int) error {
	return p.record("WritePWM", pin, float64(duty), func() {
		p.Modes[pin] = hardware.ModeOutput
		p.PWM[pin] = duty
	})
}

func (p *Pins) WriteServo(pin int, pulse int) error {
	return p.record("WriteServo", pin, float64(pulse), func() {
		p.Modes[pin] = hardware.ModeOutput
		p.Servo[pin] = pulse
	})
}

// Ops returns a copy of the recorded calls.
func (p *Pins) Ops() []Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Op(nil), p.ops...)
}

func (p *Pins) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = nil
}

func (p *Pins) record(call string, pin int, v float64, apply func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Fail {
		return fmt.Errorf("%w: stub pin %d", hardware.ErrHardwareWrite, pin)
	}
	p.ops = append(p.ops, Op{Call: call, Index: pin, Value: v})
	apply()
	return nil
}

// Chip records driver chip calls. On holds the full on/off state, Duty and
// Pulse the last proportional write per channel.
type Chip struct {
	mu    sync.Mutex
	ops   []Op
	On    map[int]bool
	Duty  map[int]float64
	Pulse map[int]int
	Fail  bool
}

func NewChip() *Chip {
	return &Chip{
		On:    make(map[int]bool),
		Duty:  make(map[int]float64),
		Pulse: make(map[int]int),
	}
}

func (c *Chip) ChannelOn(channel int) error {
	return c.record("ChannelOn", channel, 1, func() { c.On[channel] = true })
}

func (c *Chip) ChannelOff(channel int) error {
	return c.record("ChannelOff", channel, 0, func() { c.On[channel] = false })
}

func (c *Chip) SetDutyCycle(channel int, duty float64) error {
	return c.record("SetDutyCycle", channel, duty, func() { c.Duty[channel] = duty })
}

func (c *Chip) SetPulseLength(channel int, pulse int) error {
	return c.record("SetPulseLength", channel, float64(pulse), func() { c.Pulse[channel] = pulse })
}

func (c *Chip) Ops() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.ops...)
}

func (c *Chip) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = nil
}

func (c *Chip) record(call string, channel int, v float64, apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Fail {
		return fmt.Errorf("%w: stub channel %d", hardware.ErrHardwareWrite, channel)
	}
	c.ops = append(c.ops, Op{Call: call, Index: channel, Value: v})
	apply()
	return nil
}

// Backends returns stub backends with the given number of chips.
func Backends(chips int) (*Pins, []*Chip, hardware.Backends) {
	pins := NewPins()
	b := hardware.Backends{Pins: pins}
	stubs := make([]*Chip, chips)
	for i := range stubs {
		stubs[i] = NewChip()
		b.Chips = append(b.Chips, stubs[i])
	}
	return pins, stubs, b
}
