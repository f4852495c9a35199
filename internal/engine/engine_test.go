package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/efeuentertainment/vigiclient/internal/frame"
	"github.com/efeuentertainment/vigiclient/internal/hardware"
	"github.com/efeuentertainment/vigiclient/internal/hardware/stub"
	"github.com/efeuentertainment/vigiclient/internal/mixer"
	"github.com/efeuentertainment/vigiclient/internal/session"
	"github.com/efeuentertainment/vigiclient/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func ptr[T any](v T) *T { return &v }

type sent struct {
	station string
	data    []byte
}

type recorder struct {
	mu        sync.Mutex
	telemetry []sent
	traces    []string
	events    []session.Event
}

func (r *recorder) SendTelemetry(station string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry = append(r.telemetry, sent{station: station, data: data})
}

func (r *recorder) SendTrace(message string, mandatory bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, message)
}

func (r *recorder) HandleEvent(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind session.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	engine *Engine
	rec    *recorder
	pins   *stub.Pins
	clock  *clock
	logs   *observer.ObservedLogs
}

func testConfig() Config {
	return Config{
		TickRate:          20 * time.Millisecond,
		TxRate:            50 * time.Millisecond,
		InactivityTimeout: time.Second,
		LatencyAlarmBegin: 250 * time.Millisecond,
		LatencyAlarmEnd:   200 * time.Millisecond,
		BeaconRate:        time.Second,
	}
}

func testProfile() *types.Profile {
	return &types.Profile{
		Commands16: []types.CommandDescriptor{{
			Name:     "speed",
			Scale:    types.Scale{Min: -100, Max: 100},
			RampUp:   5,
			RampDown: 10,
			RampInit: 2,
			Margin:   ptr(1.0),
			Failsafe: true,
		}},
		Commands8: []types.CommandDescriptor{{
			Name:  "tilt",
			Scale: types.Scale{Min: 0, Max: 255},
			Init:  128,
		}},
		Commands1: []types.CommandDescriptor{{Name: "light", Sleep: true}},
		Values8:   []types.SlotDescriptor{{Name: "cpu_load", Scale: types.Scale{Min: 0, Max: 100}}},
		Outputs: []types.OutputDescriptor{{
			Name:       "drive",
			Kind:       types.OutputServo,
			Backend:    types.BackendDirect,
			Pins:       []int{18},
			Ins:        []float64{-100, 100},
			Outs:       []float64{-100, 100},
			Commands16: []types.Contribution{{Index: 0, Gain: 1}},
		}},
	}
}

func newFixture(t *testing.T, apply bool) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	pins, _, backends := stub.Backends(0)
	rec := &recorder{}

	e, err := New(testConfig(), backends, rec, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.SetEventHandler(rec)
	clk := &clock{t: time.Unix(1700000000, 0)}
	e.now = clk.Now

	if apply {
		p := testProfile()
		m, err := mixer.New(p, backends, logger)
		if err != nil {
			t.Fatalf("mixer.New() error = %v", err)
		}
		e.apply(newRuntime(p, m))
	}

	return &fixture{engine: e, rec: rec, pins: pins, clock: clk, logs: logs}
}

// frameFor encodes a status frame with the speed command set to v.
func (f *fixture) frameFor(v float64, light bool) []byte {
	codec := f.engine.rt.codec
	cf := &frame.CommandFrame{
		Subtype: frame.SubtypeStatus,
		Raw16:   []uint16{codec.Raw16(0, v)},
		Raw8:    []uint8{codec.Raw8(0, 128)},
		Bools:   []byte{0},
		Camera:  1,
	}
	if light {
		cf.Bools[0] = 1
	}
	return codec.EncodeCommandFrame(cf)
}

func (f *fixture) send(station string, data []byte) {
	f.engine.handleFrame(Frame{Station: station, Data: data})
}

func (f *fixture) tick() {
	f.clock.advance(f.engine.cfg.TickRate)
	f.engine.tick()
}

func TestNewRejectsInvertedAlarm(t *testing.T) {
	cfg := testConfig()
	cfg.LatencyAlarmEnd = cfg.LatencyAlarmBegin
	if _, err := New(cfg, hardware.Backends{}, &recorder{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for end >= begin")
	}
}

func TestNotInitialized(t *testing.T) {
	f := newFixture(t, false)

	f.send("a", []byte{'$', 'S'})

	if f.engine.Snapshot().State != session.StateIdle {
		t.Error("session should stay idle")
	}
	if len(f.rec.traces) != 1 || f.rec.traces[0] != "This robot is not initialized" {
		t.Errorf("traces = %v", f.rec.traces)
	}
	if f.engine.Initialized() {
		t.Error("engine should not report initialized")
	}
}

func TestRampThroughEngine(t *testing.T) {
	f := newFixture(t, true)
	f.send("a", f.frameFor(80, false))

	target := f.engine.rt.c16.Target(0)
	if math.Abs(target-80) > 0.01 {
		t.Fatalf("target = %g, want about 80", target)
	}
	if !f.engine.running {
		t.Fatal("loop should run after wake")
	}

	prev := 0.0
	ticks := 0
	for f.engine.rt.c16.Current(0) != target {
		// Frames keep the session alive and the latency low.
		if ticks%2 == 1 {
			f.send("a", f.frameFor(80, false))
		}
		f.tick()
		ticks++
		cur := f.engine.rt.c16.Current(0)
		if cur-prev > 5+1e-9 || cur < prev || cur > target {
			t.Fatalf("tick %d: current %g after %g", ticks, cur, prev)
		}
		prev = cur
		if ticks > 20 {
			t.Fatal("did not converge")
		}
	}

	if ticks != 17 {
		t.Errorf("converged in %d ticks, want 17", ticks)
	}
	if got := f.pins.Servo[18]; got != 80 {
		t.Errorf("servo = %d, want 80", got)
	}
}

func TestExclusivity(t *testing.T) {
	f := newFixture(t, true)
	f.send("a", f.frameFor(40, false))

	before := *f.engine.Snapshot()
	sentBefore := len(f.rec.telemetry)

	f.clock.advance(100 * time.Millisecond)
	f.send("b", f.frameFor(-40, true))
	f.clock.advance(100 * time.Millisecond)
	f.send("b", f.frameFor(-40, true))

	if got := f.engine.rt.c16.Target(0); got != before.Commands16[0].Target {
		t.Errorf("target mutated by foreign station: %g", got)
	}
	if got := f.engine.rt.c1.Target(0); got != 0 {
		t.Errorf("bool target mutated by foreign station: %g", got)
	}
	if f.engine.session.Owner() != "a" {
		t.Errorf("owner = %q, want a", f.engine.session.Owner())
	}
	if len(f.rec.telemetry) != sentBefore {
		t.Error("rejected frames must not be answered")
	}
	if n := f.rec.count(session.EventRejected); n != 1 {
		t.Errorf("rejection events = %d, want 1", n)
	}

	// The owner is still admitted after the rejected frames.
	f.clock.advance(100 * time.Millisecond)
	f.send("a", f.frameFor(60, false))
	if got := f.engine.rt.c16.Target(0); math.Abs(got-60) > 0.01 {
		t.Errorf("owner target = %g, want about 60", got)
	}
}

func TestLatencyFailsafe(t *testing.T) {
	f := newFixture(t, true)
	f.send("a", f.frameFor(80, true))

	for i := 0; i < 4; i++ {
		f.tick()
	}
	if cur := f.engine.rt.c16.Current(0); cur != 20 {
		t.Fatalf("current = %g, want 20", cur)
	}

	f.clock.advance(300 * time.Millisecond)
	f.engine.tick()

	if !f.engine.alarm.Active() {
		t.Fatal("alarm should be active")
	}
	if f.logs.FilterMessage("Latency alarm raised, stopping motors").Len() != 1 {
		t.Error("alarm entry not logged")
	}
	if got := f.engine.rt.c16.Target(0); got != 0 {
		t.Errorf("failsafe target = %g, want 0", got)
	}
	// Not failsafe eligible.
	if got := f.engine.rt.c1.Target(0); got != 1 {
		t.Errorf("bool target = %g, want 1", got)
	}
	// Decelerates at the ramp-to-init rate, not instantly.
	if cur := f.engine.rt.c16.Current(0); cur != 18 {
		t.Errorf("current = %g, want 18", cur)
	}

	// A fresh frame brings the latency back under the end threshold.
	f.send("a", f.frameFor(80, true))
	f.tick()
	if f.engine.alarm.Active() {
		t.Fatal("alarm should clear once latency is low")
	}
	if f.logs.FilterMessage("Latency alarm cleared").Len() != 1 {
		t.Error("alarm exit not logged")
	}
	if got := f.engine.rt.c16.Target(0); math.Abs(got-80) > 0.01 {
		t.Errorf("target = %g, want the station target after recovery", got)
	}
	if f.rec.count(session.EventFailsafeBegin) != 1 || f.rec.count(session.EventFailsafeEnd) != 1 {
		t.Errorf("events = %v", f.rec.events)
	}
}

func TestInactivitySleep(t *testing.T) {
	f := newFixture(t, true)
	f.send("a", f.frameFor(10, true))
	f.tick()
	f.tick()

	f.clock.advance(1100 * time.Millisecond)
	f.engine.tick()

	if f.engine.session.Engaged() {
		t.Fatal("session should be idle after the inactivity window")
	}
	if f.rec.count(session.EventSleep) != 1 {
		t.Error("sleep event missing")
	}
	if got := f.engine.rt.c1.Target(0); got != 0 {
		t.Errorf("sleep eligible target = %g, want 0", got)
	}

	for i := 0; i < 20 && f.engine.running; i++ {
		f.tick()
	}
	if f.engine.running {
		t.Fatal("loop should suspend once settled")
	}
	if f.engine.rt.c16.Current(0) != 0 || f.engine.rt.c1.Current(0) != 0 {
		t.Error("commands should settle at init")
	}
	if !f.engine.Snapshot().Outputs[0].Asleep {
		t.Error("outputs should be parked")
	}

	// Suspended ticks are no-ops.
	n := len(f.pins.Ops())
	f.tick()
	if len(f.pins.Ops()) != n {
		t.Error("suspended tick wrote outputs")
	}
}

func TestDisconnectReleasesOwnership(t *testing.T) {
	f := newFixture(t, true)
	f.send("a", f.frameFor(10, false))

	f.engine.handleDisconnect("b")
	if f.engine.session.Owner() != "a" {
		t.Fatal("disconnect of another station must not release")
	}

	f.engine.handleDisconnect("a")
	if f.engine.session.Engaged() {
		t.Fatal("session should be idle")
	}

	f.clock.advance(100 * time.Millisecond)
	f.send("b", f.frameFor(-10, false))
	if f.engine.session.Owner() != "b" {
		t.Errorf("owner = %q, want b", f.engine.session.Owner())
	}
	if f.rec.count(session.EventWake) != 2 {
		t.Errorf("wake events = %d, want 2", f.rec.count(session.EventWake))
	}
}

func TestTelemetryEchoesAppliedValues(t *testing.T) {
	f := newFixture(t, true)
	f.send("a", f.frameFor(80, false))

	if len(f.rec.telemetry) != 1 || f.rec.telemetry[0].station != "a" {
		t.Fatalf("telemetry = %v", f.rec.telemetry)
	}

	codec := f.engine.rt.codec
	tf, err := codec.DecodeTelemetryFrame(f.rec.telemetry[0].data)
	if err != nil {
		t.Fatalf("DecodeTelemetryFrame() error = %v", err)
	}
	if v := codec.Float16(0, tf.Raw16[0]); math.Abs(v) > 0.01 {
		t.Errorf("echoed speed = %g, want the unramped 0", v)
	}
	if tf.Camera != 1 {
		t.Errorf("camera = %d, want 1", tf.Camera)
	}

	f.tick()
	f.clock.advance(40 * time.Millisecond)
	f.send("a", f.frameFor(80, false))
	tf, err = codec.DecodeTelemetryFrame(f.rec.telemetry[1].data)
	if err != nil {
		t.Fatalf("DecodeTelemetryFrame() error = %v", err)
	}
	if v := codec.Float16(0, tf.Raw16[0]); math.Abs(v-5) > 0.01 {
		t.Errorf("echoed speed = %g, want 5", v)
	}
}

func TestBurstDropped(t *testing.T) {
	f := newFixture(t, true)
	f.send("a", f.frameFor(10, false))
	f.clock.advance(10 * time.Millisecond)
	f.send("a", f.frameFor(90, false))

	if got := f.engine.rt.c16.Target(0); math.Abs(got-10) > 0.01 {
		t.Errorf("target = %g, burst frame should be dropped", got)
	}
	if len(f.rec.telemetry) != 1 {
		t.Errorf("telemetry count = %d, want 1", len(f.rec.telemetry))
	}
}

func TestCorruptFrame(t *testing.T) {
	f := newFixture(t, true)

	bad := f.frameFor(50, false)
	bad[0] = '#'
	f.send("a", bad)
	f.send("a", f.frameFor(50, false)[:4])

	if f.engine.session.Engaged() {
		t.Error("corrupt frames must not engage the session")
	}
	if got := f.engine.rt.c16.Target(0); got != 0 {
		t.Errorf("target = %g, want 0", got)
	}
	if f.logs.FilterMessage("Corrupt frame dropped").Len() != 2 {
		t.Error("corrupt frames not logged")
	}
}

func TestTextFrameKeepsSessionAlive(t *testing.T) {
	f := newFixture(t, true)

	f.send("a", []byte("$Thello"))

	if !f.engine.session.Engaged() {
		t.Fatal("text frame should engage")
	}
	if got := f.engine.rt.c16.Target(0); got != 0 {
		t.Errorf("target = %g, text frames set no targets", got)
	}
	if f.logs.FilterMessage("Text frame received").Len() != 1 {
		t.Error("text frame not logged")
	}
}

func TestBeaconOnlyWhileIdle(t *testing.T) {
	f := newFixture(t, true)

	f.engine.beacon()
	if len(f.rec.telemetry) != 1 || f.rec.telemetry[0].station != "" {
		t.Fatalf("telemetry = %v, want one broadcast", f.rec.telemetry)
	}

	f.send("a", f.frameFor(0, false))
	f.engine.beacon()
	if len(f.rec.telemetry) != 2 {
		t.Errorf("telemetry count = %d, want 2 (echo only)", len(f.rec.telemetry))
	}
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	if err := f.engine.Reconfigure(ctx, testProfile()); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	snap := f.engine.Snapshot()
	if !snap.Initialized || len(snap.Commands16) != 1 || len(snap.Outputs) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Commands8[0].Current != 128 {
		t.Errorf("tilt = %g, want init 128", snap.Commands8[0].Current)
	}

	bad := testProfile()
	bad.Outputs[0].Pins = nil
	if err := f.engine.Reconfigure(ctx, bad); !errors.Is(err, mixer.ErrConfiguration) {
		t.Errorf("Reconfigure() error = %v, want ErrConfiguration", err)
	}
	if f.rec.count(session.EventReconfigured) != 1 {
		t.Error("invalid profile must not be applied")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if f.pins.Modes[18] != hardware.ModeInput {
		t.Error("outputs should be released on shutdown")
	}
}

func TestFailedWriteReissued(t *testing.T) {
	f := newFixture(t, true)
	f.send("a", f.frameFor(10, false))
	target := f.engine.rt.c16.Target(0)

	f.pins.Fail = true
	ticks := 0
	for f.engine.rt.c16.Current(0) != target {
		if ticks%2 == 1 {
			f.send("a", f.frameFor(10, false))
		}
		f.tick()
		ticks++
		if ticks > 20 {
			t.Fatal("did not converge")
		}
	}
	if got := f.pins.Servo[18]; got != 0 {
		t.Fatalf("servo = %d while writes fail, want 0", got)
	}
	if f.logs.FilterMessage("Output write failed").Len() == 0 {
		t.Error("write failure not logged")
	}

	f.pins.Fail = false
	f.tick()

	want := f.engine.rt.mixer.Snapshot()[0].Value
	if want == 0 {
		t.Fatal("mixer value should follow the settled command")
	}
	if got := f.pins.Servo[18]; got != want {
		t.Errorf("servo = %d after recovery, want %d", got, want)
	}
	if f.engine.rt.retry {
		t.Error("retry should clear after a clean write")
	}
}

func TestFailedInitialWriteReissued(t *testing.T) {
	f := newFixture(t, false)
	p := testProfile()
	m, err := mixer.New(p, hardware.Backends{Pins: f.pins}, zap.NewNop())
	if err != nil {
		t.Fatalf("mixer.New() error = %v", err)
	}

	f.pins.Fail = true
	f.engine.apply(newRuntime(p, m))
	if !f.engine.running {
		t.Fatal("loop should run to reissue the failed write")
	}

	f.pins.Fail = false
	f.tick()
	if _, ok := f.pins.Servo[18]; !ok {
		t.Fatal("servo not written after recovery")
	}
	if !f.engine.running {
		t.Fatal("loop suspended before the sleep pass")
	}

	f.tick()
	if f.engine.running {
		t.Error("loop should suspend once outputs are written and idle")
	}
}
