package ramp

import (
	"math"
	"testing"

	"github.com/efeuentertainment/vigiclient/internal/types"
)

var scenario = Params{Init: 0, Margin: 1, RampUp: 5, RampDown: 10, RampInit: 2}

func TestStepRampUp(t *testing.T) {
	current := 0.0
	ticks := 0
	for current != 80 {
		next := Step(current, 80, scenario)
		if next-current != 5 {
			t.Fatalf("tick %d: step = %v, want 5", ticks, next-current)
		}
		current = next
		ticks++
		if ticks > 100 {
			t.Fatal("did not converge")
		}
	}
	if ticks != 16 {
		t.Errorf("converged in %d ticks, want 16", ticks)
	}
}

func TestStepNoOvershoot(t *testing.T) {
	// 3 ticks of +5 then the capped tick lands exactly on 17.
	want := []float64{5, 10, 15, 17}
	current := 0.0
	for i, w := range want {
		current = Step(current, 17, scenario)
		if current != w {
			t.Errorf("tick %d = %v, want %v", i, current, w)
		}
	}
	if got := Step(current, 17, scenario); got != 17 {
		t.Errorf("converged value moved to %v", got)
	}
}

func TestStepReturnToCenter(t *testing.T) {
	current := 50.0
	seenZero := false
	for i := 0; i < 100 && current != -50; i++ {
		next := Step(current, -50, scenario)
		if next < 0 && !seenZero {
			t.Fatalf("went negative (%v) before reaching init", next)
		}
		if next == 0 {
			seenZero = true
		}
		current = next
	}
	if current != -50 {
		t.Fatalf("did not converge, current = %v", current)
	}

	// The descent toward init uses rampDown.
	if got := Step(50, -50, scenario); got != 40 {
		t.Errorf("first reversal step = %v, want 40", got)
	}
	// Leaving init the far side uses rampUp.
	if got := Step(0, -50, scenario); got != -5 {
		t.Errorf("step away from init = %v, want -5", got)
	}
}

func TestStepRateSelection(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		target  float64
		want    float64
	}{
		{"toward init band uses rampInit", 30, 0.5, 28},
		{"decreasing magnitude uses rampDown", 60, 20, 50},
		{"increasing magnitude uses rampUp", 20, 60, 25},
		{"negative increasing magnitude", -20, -60, -25},
		{"negative decreasing magnitude", -60, -20, -50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Step(tt.current, tt.target, scenario); got != tt.want {
				t.Errorf("Step(%v, %v) = %v, want %v", tt.current, tt.target, got, tt.want)
			}
		})
	}
}

func TestStepDisabledRateSnaps(t *testing.T) {
	p := Params{Init: 0, Margin: 1}
	if got := Step(0, 73, p); got != 73 {
		t.Errorf("Step() = %v, want 73", got)
	}
	// Snapping still honours the effective target on reversal.
	if got := Step(40, -40, p); got != 0 {
		t.Errorf("Step() on reversal = %v, want 0", got)
	}
}

func TestStepBinary(t *testing.T) {
	p := Params{Init: 0, RampUp: 0.25, RampInit: 0.5, Binary: true}

	if got := Step(0, 1, p); got != 0.25 {
		t.Errorf("switch on step = %v, want 0.25", got)
	}
	if got := Step(1, 0, p); got != 0.5 {
		t.Errorf("switch off step = %v, want 0.5", got)
	}
}

func TestStepMonotonicConvergence(t *testing.T) {
	targets := []float64{-100, -37.5, -0.5, 0, 3, 42, 99.9}
	starts := []float64{-80, -12, 0, 7, 64}

	for _, start := range starts {
		for _, target := range targets {
			if (target-scenario.Init)*(start-scenario.Init) < 0 {
				continue // return-to-center path is covered separately
			}
			current := start
			dir := math.Copysign(1, target-start)
			bound := int(math.Ceil(math.Abs(target-start) / math.Min(scenario.RampInit, scenario.RampUp)))
			ticks := 0
			for current != target {
				next := Step(current, target, scenario)
				if (next-current)*dir < 0 {
					t.Fatalf("%v -> %v: moved away (%v -> %v)", start, target, current, next)
				}
				if (next-target)*dir > 0 {
					t.Fatalf("%v -> %v: overshoot to %v", start, target, next)
				}
				current = next
				ticks++
				if ticks > bound {
					t.Fatalf("%v -> %v: %d ticks exceeds bound %d", start, target, ticks, bound)
				}
			}
		}
	}
}

func TestBankFailsafeAndSleep(t *testing.T) {
	b := NewBank([]Params{
		{Init: 0, Failsafe: true},
		{Init: 5, Sleep: true},
		{Init: 1},
	})

	for i := 0; i < b.Len(); i++ {
		b.SetTarget(i, 50)
	}
	if !b.Advance() {
		t.Fatal("Advance() reported no change")
	}

	b.ForceFailsafe()
	if b.Target(0) != 0 || b.Target(1) != 50 || b.Target(2) != 50 {
		t.Errorf("after ForceFailsafe targets = %v %v %v", b.Target(0), b.Target(1), b.Target(2))
	}

	b.ForceSleep()
	if b.Target(1) != 5 || b.Target(2) != 50 {
		t.Errorf("after ForceSleep targets = %v %v", b.Target(1), b.Target(2))
	}

	b.Advance()
	if b.Advance() {
		t.Error("Advance() reported change after convergence")
	}

	b.Reset()
	if got := b.Currents(); got[0] != 0 || got[1] != 5 || got[2] != 1 {
		t.Errorf("Reset() currents = %v", got)
	}
}

func TestParamsOfMargin(t *testing.T) {
	zero, wide := 0.0, 3.0
	scale := types.Scale{Min: -100, Max: 100}

	tests := []struct {
		name   string
		margin *float64
		want   float64
	}{
		{name: "unset uses quantization step", margin: nil, want: 200.0 / 65535},
		{name: "explicit zero kept", margin: &zero, want: 0},
		{name: "explicit band", margin: &wide, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParamsOf(types.CommandDescriptor{Scale: scale, Margin: tt.margin}, 65535, false)
			if p.Margin != tt.want {
				t.Errorf("Margin = %v, want %v", p.Margin, tt.want)
			}
		})
	}
}
