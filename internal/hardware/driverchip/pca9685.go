// Package driverchip drives PCA9685 PWM generators over I2C.
package driverchip

import (
	"fmt"
	"math"

	"github.com/efeuentertainment/vigiclient/internal/hardware"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// 12-bit counter of the PCA9685.
const ticksPerPeriod = 4096

// OpenBus initializes the host drivers and opens the named I2C bus, or the
// first one when name is empty.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", name, err)
	}
	return bus, nil
}

type Chip struct {
	dev     *pca9685.Dev
	address uint16
	hz      int
}

// New initializes the chip at address and sets its PWM frequency.
func New(bus i2c.Bus, address uint16, hz int, logger *zap.Logger) (*Chip, error) {
	dev, err := pca9685.NewI2C(bus, address)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pca9685 at 0x%02X: %w", address, err)
	}

	if err := dev.SetPwmFreq(physic.Frequency(hz) * physic.Hertz); err != nil {
		return nil, fmt.Errorf("failed to set pca9685 frequency at 0x%02X: %w", address, err)
	}

	logger.Info("PCA9685 initialized",
		zap.String("address", fmt.Sprintf("0x%02X", address)),
		zap.Int("frequency", hz))

	return &Chip{dev: dev, address: address, hz: hz}, nil
}

func (c *Chip) ChannelOn(channel int) error {
	return c.wrap(channel, c.dev.SetFullOn(channel))
}

func (c *Chip) ChannelOff(channel int) error {
	return c.wrap(channel, c.dev.SetFullOff(channel))
}

func (c *Chip) SetDutyCycle(channel int, duty float64) error {
	switch {
	case duty <= 0:
		return c.ChannelOff(channel)
	case duty >= 1:
		return c.ChannelOn(channel)
	}
	return c.wrap(channel, c.dev.SetPwm(channel, 0, gpio.Duty(DutyTicks(duty))))
}

func (c *Chip) SetPulseLength(channel int, pulse int) error {
	return c.wrap(channel, c.dev.SetPwm(channel, 0, gpio.Duty(PulseTicks(pulse, c.hz))))
}

func (c *Chip) wrap(channel int, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: pca9685 0x%02X channel %d: %w", hardware.ErrHardwareWrite, c.address, channel, err)
}

// DutyTicks converts a 0..1 duty cycle to the counter value that ends the
// pulse.
func DutyTicks(duty float64) int {
	return clampTicks(math.Round(duty * (ticksPerPeriod - 1)))
}

// PulseTicks converts a pulse width in microseconds at hz to counter ticks.
func PulseTicks(pulse, hz int) int {
	return clampTicks(math.Round(float64(pulse) * float64(hz) * ticksPerPeriod / 1e6))
}

func clampTicks(t float64) int {
	return int(math.Max(0, math.Min(t, ticksPerPeriod-1)))
}
