package engine

import (
	"github.com/efeuentertainment/vigiclient/internal/frame"
	"github.com/efeuentertainment/vigiclient/internal/mixer"
	"github.com/efeuentertainment/vigiclient/internal/ramp"
	"github.com/efeuentertainment/vigiclient/internal/types"
)

// runtime is everything derived from one profile. It is swapped as a whole
// on reconfiguration.
type runtime struct {
	profile *types.Profile
	codec   *frame.Codec
	mixer   *mixer.Mixer

	c16 *ramp.Bank
	c8  *ramp.Bank
	c1  *ramp.Bank

	camera uint8

	// retry is set while the last output write failed.
	retry bool
}

func newRuntime(p *types.Profile, m *mixer.Mixer) *runtime {
	return &runtime{
		profile: p,
		codec:   frame.NewCodec(p),
		mixer:   m,
		c16:     ramp.NewBank(paramsOf(p.Commands16, frame.Full16, false)),
		c8:      ramp.NewBank(paramsOf(p.Commands8, frame.Full8, false)),
		c1:      ramp.NewBank(paramsOf(p.Commands1, 0, true)),
	}
}

func paramsOf(ds []types.CommandDescriptor, full uint64, binary bool) []ramp.Params {
	params := make([]ramp.Params, len(ds))
	for i, d := range ds {
		params[i] = ramp.ParamsOf(d, float64(full), binary)
	}
	return params
}

func (rt *runtime) banks() []*ramp.Bank {
	return []*ramp.Bank{rt.c16, rt.c8, rt.c1}
}

func (rt *runtime) setTargets(f *frame.CommandFrame) {
	for i := range f.Raw16 {
		rt.c16.SetTarget(i, rt.codec.Float16(i, f.Raw16[i]))
	}
	for i := range f.Raw8 {
		rt.c8.SetTarget(i, rt.codec.Float8(i, f.Raw8[i]))
	}
	for i := 0; i < rt.c1.Len(); i++ {
		v := 0.0
		if f.Bool(i) {
			v = 1
		}
		rt.c1.SetTarget(i, v)
	}
	rt.camera = f.Camera
}

func (rt *runtime) inputs() mixer.Inputs {
	return mixer.Inputs{
		Commands16: rt.c16.Currents(),
		Commands8:  rt.c8.Currents(),
		Commands1:  rt.c1.Currents(),
	}
}

// telemetry encodes the applied command values, not the requested targets,
// together with the named sensor values.
func (rt *runtime) telemetry(sensors map[string]float64) []byte {
	t := &frame.TelemetryFrame{
		Raw16:  make([]uint16, rt.c16.Len()),
		Raw8:   make([]uint8, rt.c8.Len()),
		Bools:  make([]bool, rt.c1.Len()),
		Camera: rt.camera,
	}
	for i := range t.Raw16 {
		t.Raw16[i] = rt.codec.Raw16(i, rt.c16.Current(i))
	}
	for i := range t.Raw8 {
		t.Raw8[i] = rt.codec.Raw8(i, rt.c8.Current(i))
	}
	for i := range t.Bools {
		t.Bools[i] = rt.c1.Current(i) > 0
	}

	t.Values32 = slotValues(rt.profile.Values32, sensors)
	t.Values16 = slotValues(rt.profile.Values16, sensors)
	t.Values8 = slotValues(rt.profile.Values8, sensors)

	return rt.codec.EncodeTelemetryFrame(t)
}

func slotValues(slots []types.SlotDescriptor, sensors map[string]float64) []float64 {
	values := make([]float64, len(slots))
	for i, s := range slots {
		values[i] = sensors[s.Name]
	}
	return values
}
