package system

import (
	"fmt"

	"github.com/efeuentertainment/vigiclient/internal/hardware"
	"github.com/efeuentertainment/vigiclient/internal/hardware/direct"
	"github.com/efeuentertainment/vigiclient/internal/hardware/driverchip"
	"github.com/efeuentertainment/vigiclient/internal/hardware/stub"
	"github.com/efeuentertainment/vigiclient/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// openHardware opens the direct pins and every driver chip the profile
// declares. With dryRun the recorder backends are used instead.
func openHardware(p *types.Profile, i2cBus string, dryRun bool, logger *zap.Logger) (hardware.Backends, func() error, error) {
	if dryRun {
		_, _, backends := stub.Backends(len(p.DriverChips))
		logger.Warn("Dry run, hardware writes are recorded only",
			zap.Int("driver_chips", len(p.DriverChips)))
		return backends, func() error { return nil }, nil
	}

	pins, err := direct.Open(logger)
	if err != nil {
		return hardware.Backends{}, nil, err
	}
	closers := []func() error{pins.Close}
	closeAll := func() error {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i]())
		}
		return errs
	}

	backends := hardware.Backends{Pins: pins}
	if len(p.DriverChips) == 0 {
		return backends, closeAll, nil
	}

	bus, err := driverchip.OpenBus(i2cBus)
	if err != nil {
		closeAll()
		return hardware.Backends{}, nil, err
	}
	closers = append(closers, bus.Close)

	for i, d := range p.DriverChips {
		chip, err := driverchip.New(bus, d.Address, d.Frequency, logger)
		if err != nil {
			closeAll()
			return hardware.Backends{}, nil, fmt.Errorf("driver chip %d: %w", i, err)
		}
		backends.Chips = append(backends.Chips, chip)
	}

	return backends, closeAll, nil
}
