package mixer

import (
	"math"

	"github.com/efeuentertainment/vigiclient/internal/hardware"
)

// PinState is the logical state requested for one output pin.
type PinState int

const (
	StateLow PinState = iota
	StateHigh
	// StateRelease leaves the pin floating as an input.
	StateRelease
)

// channel abstracts the pins of one output over its backend. Pin arguments
// are positions in the output's pin list.
type channel interface {
	setup(kind pwmUse, freq int) error
	digital(pin int, state PinState) error
	pwm(pin int, value int) error
	servo(pin int, value int) error
	release() error
}

// pwmUse tells setup which pins carry PWM.
type pwmUse int

const (
	pwmNone pwmUse = iota
	pwmFirst
	pwmFirstTwo
	pwmAll
)

type directChannel struct {
	pins []int
	hw   hardware.Pins
}

func (c *directChannel) setup(use pwmUse, freq int) error {
	for _, p := range c.pins {
		if err := c.hw.SetMode(p, hardware.ModeOutput); err != nil {
			return err
		}
	}

	n := 0
	switch use {
	case pwmFirst:
		n = 1
	case pwmFirstTwo:
		n = 2
	case pwmAll:
		n = len(c.pins)
	}
	if freq <= 0 {
		return nil
	}
	for i := 0; i < n && i < len(c.pins); i++ {
		if err := c.hw.SetPWMFrequency(c.pins[i], freq); err != nil {
			return err
		}
	}
	return nil
}

func (c *directChannel) digital(pin int, state PinState) error {
	if state == StateRelease {
		return c.hw.SetMode(c.pins[pin], hardware.ModeInput)
	}
	return c.hw.WriteDigital(c.pins[pin], state != StateLow)
}

func (c *directChannel) pwm(pin int, value int) error {
	duty := Map(float64(value), -100, 100, -255, 255)
	if duty < 0 {
		duty = -duty
	}
	return c.hw.WritePWM(c.pins[pin], duty)
}

func (c *directChannel) servo(pin int, value int) error {
	return c.hw.WriteServo(c.pins[pin], value)
}

func (c *directChannel) release() error {
	for _, p := range c.pins {
		if err := c.hw.SetMode(p, hardware.ModeInput); err != nil {
			return err
		}
	}
	return nil
}

type chipChannel struct {
	channels []int
	chip     hardware.DriverChip
}

// The chip runs at its own frequency set when it was opened.
func (c *chipChannel) setup(pwmUse, int) error { return nil }

func (c *chipChannel) digital(pin int, state PinState) error {
	if state == StateLow {
		return c.chip.ChannelOff(c.channels[pin])
	}
	return c.chip.ChannelOn(c.channels[pin])
}

func (c *chipChannel) pwm(pin int, value int) error {
	return c.chip.SetDutyCycle(c.channels[pin], math.Abs(float64(value)/100))
}

func (c *chipChannel) servo(pin int, value int) error {
	return c.chip.SetPulseLength(c.channels[pin], value)
}

func (c *chipChannel) release() error { return nil }
