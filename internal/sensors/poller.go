package sensors

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	host "github.com/shirou/gopsutil/v4/sensors"
	"go.uber.org/zap"
)

const sampleTimeout = time.Second

type Config struct {
	CPURate      time.Duration
	ThermalRate  time.Duration
	WifiRate     time.Duration
	ThermalKey   string
	WirelessPath string
	WifiIface    string
}

// Poller samples the host into a Store on independent periods.
type Poller struct {
	cfg          Config
	store        *Store
	logger       *zap.Logger
	readFile     func(string) ([]byte, error)
	cpuTimes     func(ctx context.Context) (CPUTimes, error)
	temperatures func(ctx context.Context) ([]host.TemperatureStat, error)

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	prevCPU  CPUTimes
	cpuReady bool
}

func NewPoller(cfg Config, store *Store, logger *zap.Logger) *Poller {
	return &Poller{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		readFile:     os.ReadFile,
		cpuTimes:     hostCPUTimes,
		temperatures: hostTemperatures,
		stopChan:     make(chan struct{}),
	}
}

func hostCPUTimes(ctx context.Context) (CPUTimes, error) {
	ts, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return CPUTimes{}, fmt.Errorf("failed to read cpu times: %w", err)
	}
	if len(ts) == 0 {
		return CPUTimes{}, fmt.Errorf("%w: no cpu times", ErrNoReading)
	}
	return TimesOf(ts[0]), nil
}

// hostTemperatures keeps partial readings; some hwmon entries fail on
// every board.
func hostTemperatures(ctx context.Context) ([]host.TemperatureStat, error) {
	stats, err := host.TemperaturesWithContext(ctx)
	if len(stats) == 0 && err != nil {
		return nil, fmt.Errorf("failed to read temperatures: %w", err)
	}
	return stats, nil
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	p.loop(p.cfg.CPURate, p.sampleCPU)
	p.loop(p.cfg.ThermalRate, p.sampleThermal)
	p.loop(p.cfg.WifiRate, p.sampleWifi)

	p.logger.Info("Sensor poller started",
		zap.Duration("cpu_rate", p.cfg.CPURate),
		zap.Duration("thermal_rate", p.cfg.ThermalRate),
		zap.Duration("wifi_rate", p.cfg.WifiRate))
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.logger.Info("Sensor poller stopped")
}

// A zero interval disables the sampler.
func (p *Poller) loop(interval time.Duration, sample func()) {
	if interval <= 0 {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				sample()
			}
		}
	}()
}

// The CPU sampler runs on a single goroutine, so prevCPU needs no lock.
func (p *Poller) sampleCPU() {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	curr, err := p.cpuTimes(ctx)
	if err != nil {
		p.logger.Debug("CPU sample failed", zap.Error(err))
		return
	}

	if p.cpuReady {
		p.store.Set(SlotCPULoad, Load(p.prevCPU, curr))
	}
	p.prevCPU = curr
	p.cpuReady = true
}

func (p *Poller) sampleThermal() {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	stats, err := p.temperatures(ctx)
	if err != nil {
		p.logger.Debug("Temperature sample failed", zap.Error(err))
		return
	}
	t, err := Temperature(stats, p.cfg.ThermalKey)
	if err != nil {
		p.logger.Debug("Temperature sample failed", zap.Error(err))
		return
	}
	p.store.Set(SlotSoCTemperature, t)
}

func (p *Poller) sampleWifi() {
	data, err := p.readFile(p.cfg.WirelessPath)
	if err != nil {
		p.logger.Debug("Wi-Fi sample failed", zap.Error(err))
		return
	}
	link, rssi, err := ParseWireless(data, p.cfg.WifiIface)
	if err != nil {
		p.logger.Debug("Wi-Fi sample failed", zap.Error(err))
		return
	}
	p.store.Set(SlotWifiLink, link)
	p.store.Set(SlotWifiRSSI, rssi)
}
