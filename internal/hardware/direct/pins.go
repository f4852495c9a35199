// Package direct drives Raspberry Pi GPIO pins through /dev/gpiomem.
package direct

import (
	"fmt"
	"sync"

	"github.com/efeuentertainment/vigiclient/internal/hardware"
	"github.com/stianeikeland/go-rpio/v4"
	"go.uber.org/zap"
)

const (
	// PWM duty resolution, matches the 0..255 range handed in by the mixer.
	pwmRange = 255

	servoHz = 50
	// One servo period in microseconds, so the duty length is the pulse.
	servoCycle = 1000000 / servoHz
)

// Hardware PWM capable BCM pins.
var pwmPins = map[int]bool{12: true, 13: true, 18: true, 19: true, 40: true, 41: true, 45: true}

type Pins struct {
	mu     sync.Mutex
	logger *zap.Logger
	modes  map[int]rpio.Mode
	freqs  map[int]int
}

// Open maps the GPIO registers. Close must be called on shutdown.
func Open(logger *zap.Logger) (*Pins, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open gpio: %w", err)
	}

	logger.Info("GPIO memory mapped")

	return &Pins{
		logger: logger,
		modes:  make(map[int]rpio.Mode),
		freqs:  make(map[int]int),
	}, nil
}

func (p *Pins) Close() error {
	return rpio.Close()
}

func (p *Pins) SetMode(pin int, mode hardware.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if mode == hardware.ModeInput {
		p.setMode(pin, rpio.Input)
	} else {
		p.setMode(pin, rpio.Output)
	}
	return nil
}

func (p *Pins) WriteDigital(pin int, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.setMode(pin, rpio.Output)
	if high {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	return nil
}

func (p *Pins) SetPWMFrequency(pin int, hz int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !pwmPins[pin] {
		return fmt.Errorf("%w: pin %d has no hardware pwm", hardware.ErrHardwareWrite, pin)
	}
	p.freqs[pin] = hz
	p.setMode(pin, rpio.Pwm)
	rpio.Pin(pin).Freq(hz * pwmRange)
	return nil
}

func (p *Pins) WritePWM(pin int, duty int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !pwmPins[pin] {
		return fmt.Errorf("%w: pin %d has no hardware pwm", hardware.ErrHardwareWrite, pin)
	}
	if p.modes[pin] != rpio.Pwm {
		p.setMode(pin, rpio.Pwm)
		if hz, ok := p.freqs[pin]; ok {
			rpio.Pin(pin).Freq(hz * pwmRange)
		}
	}
	rpio.Pin(pin).DutyCycle(uint32(clamp(duty, 0, pwmRange)), pwmRange)
	return nil
}

func (p *Pins) WriteServo(pin int, pulse int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !pwmPins[pin] {
		return fmt.Errorf("%w: pin %d has no hardware pwm", hardware.ErrHardwareWrite, pin)
	}
	if p.modes[pin] != rpio.Pwm || p.freqs[pin] != servoHz {
		p.setMode(pin, rpio.Pwm)
		p.freqs[pin] = servoHz
		rpio.Pin(pin).Freq(servoHz * servoCycle)
	}
	rpio.Pin(pin).DutyCycle(uint32(clamp(pulse, 0, servoCycle)), servoCycle)
	return nil
}

func (p *Pins) setMode(pin int, mode rpio.Mode) {
	if current, ok := p.modes[pin]; ok && current == mode {
		return
	}
	rpio.Pin(pin).Mode(mode)
	p.modes[pin] = mode
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
