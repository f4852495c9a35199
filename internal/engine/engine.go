// Package engine runs the control loop: it accepts command frames, ramps
// the command values on a fixed period and drives the outputs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/efeuentertainment/vigiclient/internal/hardware"
	"github.com/efeuentertainment/vigiclient/internal/mixer"
	"github.com/efeuentertainment/vigiclient/internal/session"
	"github.com/efeuentertainment/vigiclient/internal/types"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("engine event queue full")

const queueSize = 64

type Config struct {
	TickRate          time.Duration
	TxRate            time.Duration
	InactivityTimeout time.Duration
	LatencyAlarmBegin time.Duration
	LatencyAlarmEnd   time.Duration
	BeaconRate        time.Duration

	// RemoteDebug forwards non-mandatory traces to the control stations.
	RemoteDebug bool
}

// Sink carries outbound messages to the control stations.
type Sink interface {
	// SendTelemetry sends to one station, or to all when station is empty.
	SendTelemetry(station string, data []byte)
	SendTrace(message string, mandatory bool)
}

// EventHandler observes session transitions. HandleEvent is called from the
// engine loop and must not block.
type EventHandler interface {
	HandleEvent(ev session.Event)
}

// SensorSource supplies the named sensor slot values of the telemetry
// frame.
type SensorSource interface {
	Values() map[string]float64
}

// Frame is one inbound frame with the send time stamped by the station.
type Frame struct {
	Station   string
	Data      []byte
	Timestamp time.Time
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventDisconnect
	eventReconfigure
)

type event struct {
	kind    eventKind
	frame   Frame
	station string
	rt      *runtime
	reply   chan struct{}
}

type Engine struct {
	cfg      Config
	logger   *zap.Logger
	backends hardware.Backends
	sink     Sink
	handler  EventHandler
	sensors  SensorSource
	now      func() time.Time

	events chan event

	// Owned by the loop goroutine.
	session       *session.Machine
	alarm         *session.LatencyAlarm
	rt            *runtime
	running       bool
	ticker        *time.Ticker
	lastTimestamp time.Time
	rejected      map[string]bool

	snapshot    atomic.Pointer[Snapshot]
	dropped     atomic.Uint64
	initialized atomic.Bool
}

func New(cfg Config, backends hardware.Backends, sink Sink, logger *zap.Logger) (*Engine, error) {
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("tick rate must be positive, got %s", cfg.TickRate)
	}

	alarm, err := session.NewLatencyAlarm(cfg.LatencyAlarmBegin, cfg.LatencyAlarmEnd)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(cfg.TickRate)
	ticker.Stop()

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		backends: backends,
		sink:     sink,
		now:      time.Now,
		events:   make(chan event, queueSize),
		session:  session.NewMachine(cfg.InactivityTimeout, cfg.TxRate/2, logger),
		alarm:    alarm,
		ticker:   ticker,
		rejected: make(map[string]bool),
	}
	e.publishSnapshot()

	return e, nil
}

// SetEventHandler must be called before Run.
func (e *Engine) SetEventHandler(h EventHandler) {
	e.handler = h
}

// SetSensors must be called before Run.
func (e *Engine) SetSensors(s SensorSource) {
	e.sensors = s
}

// Run processes events until ctx is done. Outputs are released on return.
func (e *Engine) Run(ctx context.Context) error {
	beaconRate := e.cfg.BeaconRate
	if beaconRate <= 0 {
		beaconRate = time.Second
	}
	beacon := time.NewTicker(beaconRate)
	defer beacon.Stop()
	defer e.ticker.Stop()

	e.logger.Info("Engine started",
		zap.Duration("tick_rate", e.cfg.TickRate),
		zap.Duration("inactivity_timeout", e.cfg.InactivityTimeout))

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case ev := <-e.events:
			e.dispatch(ev)
		case <-e.ticker.C:
			e.tick()
		case <-beacon.C:
			e.beacon()
		}
	}
}

func (e *Engine) dispatch(ev event) {
	switch ev.kind {
	case eventFrame:
		e.handleFrame(ev.frame)
	case eventDisconnect:
		e.handleDisconnect(ev.station)
	case eventReconfigure:
		e.apply(ev.rt)
		close(ev.reply)
	}
}

// OnFrame queues an inbound frame. It never blocks; frames are dropped when
// the queue is full.
func (e *Engine) OnFrame(station string, data []byte, timestamp time.Time) {
	e.push(event{kind: eventFrame, frame: Frame{Station: station, Data: data, Timestamp: timestamp}})
}

// OnDisconnect queues the loss of a station's transport.
func (e *Engine) OnDisconnect(station string) {
	e.push(event{kind: eventDisconnect, station: station})
}

func (e *Engine) push(ev event) {
	select {
	case e.events <- ev:
	default:
		n := e.dropped.Add(1)
		e.logger.Warn("Engine event dropped",
			zap.Error(ErrQueueFull),
			zap.Uint64("dropped", n))
	}
}

// Reconfigure validates p against the hardware backends, then swaps the
// profile and all derived state in one step on the loop. It waits for Run
// to pick the change up.
func (e *Engine) Reconfigure(ctx context.Context, p *types.Profile) error {
	m, err := mixer.New(p, e.backends, e.logger)
	if err != nil {
		return err
	}

	reply := make(chan struct{})
	select {
	case e.events <- event{kind: eventReconfigure, rt: newRuntime(p, m), reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the last published state. Safe for concurrent use.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Initialized reports whether a profile has been applied.
func (e *Engine) Initialized() bool {
	return e.initialized.Load()
}

func (e *Engine) shutdown() {
	if rt := e.rt; rt != nil {
		if err := rt.mixer.Release(); err != nil {
			e.logger.Warn("Failed to release outputs", zap.Error(err))
		}
	}
	e.logger.Info("Engine stopped")
}
