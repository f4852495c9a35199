// Package hardware defines the actuator backends the mixer writes to.
package hardware

import "errors"

var ErrHardwareWrite = errors.New("hardware write failed")

type Mode int

const (
	ModeInput Mode = iota
	ModeOutput
)

func (m Mode) String() string {
	if m == ModeInput {
		return "input"
	}
	return "output"
}

// Pins drives directly wired GPIO pins.
type Pins interface {
	SetMode(pin int, mode Mode) error
	WriteDigital(pin int, high bool) error
	SetPWMFrequency(pin int, hz int) error
	// WritePWM sets a duty cycle in 0..255.
	WritePWM(pin int, duty int) error
	// WriteServo sets a servo pulse width in microseconds.
	WriteServo(pin int, pulse int) error
}

// DriverChip drives the channels of an external PWM generator.
type DriverChip interface {
	ChannelOn(channel int) error
	ChannelOff(channel int) error
	// SetDutyCycle sets a duty cycle in 0..1.
	SetDutyCycle(channel int, duty float64) error
	// SetPulseLength sets a pulse width in microseconds.
	SetPulseLength(channel int, pulse int) error
}

// ChipChannels is the channel count of one driver chip.
const ChipChannels = 16

// Backends is the set of hardware available to one profile. Pins may be
// nil when no direct pin output is wired; Chips is indexed by the chip
// number of the output descriptors.
type Backends struct {
	Pins  Pins
	Chips []DriverChip
}
