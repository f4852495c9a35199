package engine

import (
	"fmt"

	"github.com/efeuentertainment/vigiclient/internal/frame"
	"github.com/efeuentertainment/vigiclient/internal/session"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func (e *Engine) handleFrame(f Frame) {
	rt := e.rt
	if rt == nil {
		e.trace("This robot is not initialized", true)
		return
	}

	if err := e.session.Authorize(f.Station); err != nil {
		e.logger.Debug("Frame rejected",
			zap.String("station", f.Station),
			zap.Error(err))
		e.trace(fmt.Sprintf("This robot is already in use from the %s station", e.session.Owner()), false)
		if !e.rejected[f.Station] {
			e.rejected[f.Station] = true
			e.emit(session.EventRejected, f.Station, err.Error())
		}
		return
	}

	cf, err := rt.codec.DecodeCommandFrame(f.Data)
	if err != nil {
		e.logger.Warn("Corrupt frame dropped",
			zap.String("station", f.Station),
			zap.Int("length", len(f.Data)),
			zap.Error(err))
		e.trace("Reception of a corrupted frame", false)
		return
	}

	now := e.now()
	if err := e.session.Admit(now); err != nil {
		e.logger.Debug("Frame dropped",
			zap.String("station", f.Station),
			zap.Error(err))
		return
	}

	e.lastTimestamp = f.Timestamp
	if f.Timestamp.IsZero() {
		e.lastTimestamp = now
	}

	if cf.Subtype == frame.SubtypeStatus {
		rt.setTargets(cf)
	} else {
		e.logger.Debug("Text frame received",
			zap.String("station", f.Station),
			zap.ByteString("text", cf.Text))
		e.trace("Reception of a text frame", false)
	}

	if e.session.Engage(f.Station, now) {
		e.wake(rt, f.Station)
	}

	e.sink.SendTelemetry(f.Station, rt.telemetry(e.sensorValues()))
	e.publishSnapshot()
}

func (e *Engine) wake(rt *runtime, station string) {
	e.trace("Robot wake", false)
	clear(e.rejected)
	e.emit(session.EventWake, station, "")

	e.write(rt)
	e.resume()
}

// write drives every output from the current values. A failed pass marks
// the runtime for a rewrite on the next tick.
func (e *Engine) write(rt *runtime) {
	err := rt.mixer.Write(rt.inputs())
	rt.retry = err != nil
	if err != nil {
		e.logger.Warn("Output write failed", zap.Error(err))
	}
}

func (e *Engine) handleDisconnect(station string) {
	owner := e.session.Owner()
	if e.session.Disconnect(station) {
		e.sleep(owner, "disconnected")
	}
	delete(e.rejected, station)
	e.publishSnapshot()
}

// sleep sends sleep- and failsafe-eligible commands back to init. The tick
// keeps running until they settle, then parks the outputs.
func (e *Engine) sleep(station, reason string) {
	e.trace("Robot sleep", false)
	e.emit(session.EventSleep, station, reason)

	if rt := e.rt; rt != nil {
		for _, b := range rt.banks() {
			b.ForceSleep()
		}
	}
}

func (e *Engine) tick() {
	rt := e.rt
	if !e.running || rt == nil {
		return
	}

	now := e.now()
	if e.session.Expired(now) {
		owner := e.session.Owner()
		e.session.Release("inactivity timeout")
		e.sleep(owner, "inactivity timeout")
	}

	latency := now.Sub(e.lastTimestamp)
	if e.alarm.Update(latency) {
		if e.alarm.Active() {
			e.logger.Warn("Latency alarm raised, stopping motors",
				zap.Duration("latency", latency))
			e.trace(fmt.Sprintf("%d ms latency, stopping of motors and streams", latency.Milliseconds()), false)
			e.emit(session.EventFailsafeBegin, e.session.Owner(), latency.String())
		} else {
			e.logger.Info("Latency alarm cleared",
				zap.Duration("latency", latency))
			e.trace(fmt.Sprintf("%d ms latency, resuming normal operations", latency.Milliseconds()), false)
			e.emit(session.EventFailsafeEnd, e.session.Owner(), latency.String())
		}
	}

	if e.alarm.Active() {
		for _, b := range rt.banks() {
			b.ForceFailsafe()
		}
	}

	changed := false
	for _, b := range rt.banks() {
		if b.Advance() {
			changed = true
		}
	}

	if changed || rt.retry {
		e.write(rt)
	} else if !e.session.Engaged() {
		if err := rt.mixer.Sleep(); err != nil {
			e.logger.Warn("Failed to apply sleep modes", zap.Error(err))
		} else {
			e.suspend()
		}
	}

	e.publishSnapshot()
}

func (e *Engine) resume() {
	if e.running {
		return
	}
	e.running = true
	e.ticker.Reset(e.cfg.TickRate)
}

func (e *Engine) suspend() {
	e.running = false
	e.ticker.Stop()
	e.logger.Debug("Control loop suspended")
}

// beacon broadcasts telemetry while no station is engaged.
func (e *Engine) beacon() {
	rt := e.rt
	if rt == nil || e.session.Engaged() {
		return
	}
	e.sink.SendTelemetry("", rt.telemetry(e.sensorValues()))
}

// apply swaps in a new runtime. The previous outputs are released first and
// the new ones start from their init values.
func (e *Engine) apply(rt *runtime) {
	if old := e.rt; old != nil {
		if err := old.mixer.Release(); err != nil {
			e.logger.Warn("Failed to release previous outputs", zap.Error(err))
		}
	}

	if err := rt.mixer.Init(); err != nil {
		e.logger.Warn("Output initialization incomplete", zap.Error(err))
	}

	e.rt = rt

	errs := rt.mixer.Write(rt.inputs())
	if !e.session.Engaged() {
		errs = multierr.Append(errs, rt.mixer.Sleep())
	}
	if errs != nil {
		e.logger.Warn("Initial output write failed", zap.Error(errs))
		rt.retry = true
		e.resume()
	}

	e.initialized.Store(true)
	e.logger.Info("Profile applied",
		zap.Int("commands16", rt.c16.Len()),
		zap.Int("commands8", rt.c8.Len()),
		zap.Int("commands1", rt.c1.Len()),
		zap.Int("outputs", rt.mixer.Len()),
		zap.Int("command_frame_size", rt.codec.Layout().CommandFrameSize()),
		zap.Int("telemetry_frame_size", rt.codec.Layout().TelemetryFrameSize()))
	e.emit(session.EventReconfigured, e.session.Owner(), "")
	e.publishSnapshot()
}

func (e *Engine) sensorValues() map[string]float64 {
	if e.sensors == nil {
		return nil
	}
	return e.sensors.Values()
}

func (e *Engine) emit(kind session.EventKind, station, detail string) {
	if e.handler == nil {
		return
	}
	e.handler.HandleEvent(session.NewEvent(kind, e.session.SessionID(), station, detail, e.now()))
}

// trace logs the message and forwards it to the stations when it is
// mandatory or remote debugging is on.
func (e *Engine) trace(message string, mandatory bool) {
	if mandatory {
		e.logger.Info(message)
	} else {
		e.logger.Debug(message)
	}
	if mandatory || e.cfg.RemoteDebug {
		e.sink.SendTrace(message, mandatory)
	}
}
