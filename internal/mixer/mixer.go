// Package mixer turns current command values into physical output writes.
package mixer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/efeuentertainment/vigiclient/internal/hardware"
	"github.com/efeuentertainment/vigiclient/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrConfiguration = errors.New("invalid output configuration")

// Inputs holds the current value of every command slot, by bank.
type Inputs struct {
	Commands16 []float64
	Commands8  []float64
	Commands1  []float64
}

// OutputState is the observable state of one output after the last write.
type OutputState struct {
	Name      string           `json:"name"`
	Kind      types.OutputKind `json:"kind"`
	Mixed     float64          `json:"mixed"`
	Backslash float64          `json:"backslash_offset"`
	Value     int              `json:"value"`
	Asleep    bool             `json:"asleep"`
}

type output struct {
	desc types.OutputDescriptor
	ch   channel

	mixed  float64
	offset float64
	value  int
	asleep bool
}

type Mixer struct {
	logger  *zap.Logger
	pwmFreq int

	mu      sync.RWMutex
	outputs []*output
}

// New validates every output of the profile against its command banks and
// the available backends. Any mismatch is reported as ErrConfiguration.
func New(p *types.Profile, backends hardware.Backends, logger *zap.Logger) (*Mixer, error) {
	m := &Mixer{
		logger:  logger,
		pwmFreq: p.PWMFrequency,
	}

	var errs error
	for i, d := range p.Outputs {
		ch, err := bind(d, backends)
		if err == nil {
			err = validate(d, p)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("output %d (%s): %w", i, d.Name, err))
			continue
		}
		m.outputs = append(m.outputs, &output{desc: d, ch: ch})
	}

	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, errs)
	}
	return m, nil
}

func bind(d types.OutputDescriptor, b hardware.Backends) (channel, error) {
	if len(d.Pins) == 0 {
		return nil, errors.New("no pins")
	}

	switch d.Backend {
	case types.BackendDirect, "":
		if b.Pins == nil {
			return nil, errors.New("direct pins unavailable")
		}
		return &directChannel{pins: d.Pins, hw: b.Pins}, nil
	case types.BackendDriverChip:
		if d.Chip < 0 || d.Chip >= len(b.Chips) || b.Chips[d.Chip] == nil {
			return nil, fmt.Errorf("driver chip %d unavailable", d.Chip)
		}
		for _, c := range d.Pins {
			if c < 0 || c >= hardware.ChipChannels {
				return nil, fmt.Errorf("driver chip channel %d out of range", c)
			}
		}
		return &chipChannel{channels: d.Pins, chip: b.Chips[d.Chip]}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", d.Backend)
	}
}

func validate(d types.OutputDescriptor, p *types.Profile) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
	if n := d.Kind.PinCount(); n > 0 && len(d.Pins) != n {
		return fmt.Errorf("kind %s needs %d pins, got %d", d.Kind, n, len(d.Pins))
	}

	if len(d.Ins) == 0 || len(d.Ins) != len(d.Outs) {
		return fmt.Errorf("transfer function needs matching ins and outs, got %d and %d", len(d.Ins), len(d.Outs))
	}
	for i := 1; i < len(d.Ins); i++ {
		if d.Ins[i] <= d.Ins[i-1] {
			return fmt.Errorf("transfer function inputs not ascending at %d", i)
		}
	}

	var errs error
	errs = multierr.Append(errs, checkIndices("commands16", d.Commands16, len(p.Commands16)))
	errs = multierr.Append(errs, checkIndices("commands8", d.Commands8, len(p.Commands8)))
	errs = multierr.Append(errs, checkIndices("commands1", d.Commands1, len(p.Commands1)))

	if len(d.SleepModes) > len(d.Pins) {
		errs = multierr.Append(errs, fmt.Errorf("%d sleep modes for %d pins", len(d.SleepModes), len(d.Pins)))
	}
	for _, s := range d.SleepModes {
		switch s {
		case types.SleepNone, types.SleepHigh, types.SleepLow, types.SleepInput:
		default:
			errs = multierr.Append(errs, fmt.Errorf("unknown sleep mode %q", s))
		}
	}
	return errs
}

func checkIndices(bank string, cs []types.Contribution, n int) error {
	for _, c := range cs {
		if c.Index < 0 || c.Index >= n {
			return fmt.Errorf("%s index %d out of range (%d slots)", bank, c.Index, n)
		}
	}
	return nil
}

// Init puts every pin in output mode and applies the PWM frequency to the
// direct PWM pins. Mixed values and backslash offsets start at zero.
func (m *Mixer) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, o := range m.outputs {
		o.mixed, o.offset, o.value, o.asleep = 0, 0, 0, false
		if err := o.ch.setup(pwmUseOf(o.desc.Kind), m.pwmFreq); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("output %s: %w", o.desc.Name, err))
		}
	}

	m.logger.Info("Outputs initialized",
		zap.Int("outputs", len(m.outputs)),
		zap.Int("pwm_frequency", m.pwmFreq))

	return errs
}

func pwmUseOf(k types.OutputKind) pwmUse {
	switch k {
	case types.OutputPWM:
		return pwmAll
	case types.OutputPWMPair:
		return pwmFirstTwo
	case types.OutputPWMDir, types.OutputPWMDualDir:
		return pwmFirst
	default:
		return pwmNone
	}
}

// Write mixes the inputs into every output and drives the hardware. All
// outputs are written even when some fail; the failures are returned
// together.
func (m *Mixer) Write(in Inputs) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, o := range m.outputs {
		mixed := mix(o.desc.Commands16, in.Commands16) +
			mix(o.desc.Commands8, in.Commands8) +
			mix(o.desc.Commands1, in.Commands1)

		if mixed < o.mixed {
			o.offset = -o.desc.Backslash
		} else if mixed > o.mixed {
			o.offset = o.desc.Backslash
		}
		o.mixed = mixed
		o.asleep = false

		o.value = Transfer(o.desc.Ins, o.desc.Outs, mixed+o.offset)
		if err := o.drive(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("output %s: %w", o.desc.Name, err))
		}
	}
	return errs
}

func mix(cs []types.Contribution, values []float64) float64 {
	var sum float64
	for _, c := range cs {
		if c.Index < len(values) {
			sum += values[c.Index] * c.Gain
		}
	}
	return sum
}

func (o *output) drive() error {
	v := o.value
	ch := o.ch

	switch o.desc.Kind {
	case types.OutputDigital:
		state := PinState(v)
		var errs error
		for i := range o.desc.Pins {
			errs = multierr.Append(errs, ch.digital(i, state))
		}
		return errs

	case types.OutputServo:
		var errs error
		for i := range o.desc.Pins {
			errs = multierr.Append(errs, ch.servo(i, v))
		}
		return errs

	case types.OutputPWM:
		var errs error
		for i := range o.desc.Pins {
			errs = multierr.Append(errs, ch.pwm(i, v))
		}
		return errs

	case types.OutputPWMPair:
		switch {
		case v > 0:
			return multierr.Combine(ch.pwm(0, v), ch.digital(1, StateLow))
		case v < 0:
			return multierr.Combine(ch.digital(0, StateLow), ch.pwm(1, v))
		default:
			return multierr.Combine(ch.digital(0, StateHigh), ch.digital(1, StateHigh))
		}

	case types.OutputPWMDir:
		dir := StateLow
		if v > 0 {
			dir = StateHigh
		}
		return multierr.Combine(ch.digital(1, dir), ch.pwm(0, v))

	case types.OutputPWMDualDir:
		var err error
		switch {
		case v > 0:
			err = multierr.Combine(ch.digital(1, StateHigh), ch.digital(2, StateLow))
		case v < 0:
			err = multierr.Combine(ch.digital(1, StateLow), ch.digital(2, StateHigh))
		default:
			err = multierr.Combine(ch.digital(1, StateHigh), ch.digital(2, StateHigh))
		}
		return multierr.Append(err, ch.pwm(0, v))
	}
	return nil
}

// Sleep applies the per-pin sleep modes of every output. Pins without a
// mode, or with SleepNone, keep their last state.
func (m *Mixer) Sleep() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, o := range m.outputs {
		for j, mode := range o.desc.SleepModes {
			var state PinState
			switch mode {
			case types.SleepHigh:
				state = StateHigh
			case types.SleepLow:
				state = StateLow
			case types.SleepInput:
				state = StateRelease
			default:
				continue
			}
			if err := o.ch.digital(j, state); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("output %s pin %d: %w", o.desc.Name, j, err))
			}
		}
		o.asleep = true
	}
	return errs
}

// Release returns every direct pin to input mode. It is called before the
// mixer is replaced.
func (m *Mixer) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, o := range m.outputs {
		errs = multierr.Append(errs, o.ch.release())
	}
	return errs
}

func (m *Mixer) Snapshot() []OutputState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]OutputState, len(m.outputs))
	for i, o := range m.outputs {
		states[i] = OutputState{
			Name:      o.desc.Name,
			Kind:      o.desc.Kind,
			Mixed:     o.mixed,
			Backslash: o.offset,
			Value:     o.value,
			Asleep:    o.asleep,
		}
	}
	return states
}

func (m *Mixer) Len() int {
	return len(m.outputs)
}
