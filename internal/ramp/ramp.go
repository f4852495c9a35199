// Package ramp advances applied command values toward their targets under
// per-slot rate limits.
package ramp

import (
	"math"

	"github.com/efeuentertainment/vigiclient/internal/types"
)

// Params holds the per-slot ramp configuration.
type Params struct {
	Init     float64
	Margin   float64
	RampUp   float64
	RampDown float64
	RampInit float64

	// Binary slots only distinguish "near init" from everything else and
	// never return through init first.
	Binary bool

	Failsafe bool
	Sleep    bool
}

// ParamsOf builds ramp parameters from a descriptor. full is the raw
// full-scale of the slot width, used when the descriptor sets no margin.
func ParamsOf(d types.CommandDescriptor, full float64, binary bool) Params {
	var margin float64
	switch {
	case d.Margin != nil:
		margin = *d.Margin
	case full > 0:
		margin = (d.Max - d.Min) / full
	}
	return Params{
		Init:     d.Init,
		Margin:   margin,
		RampUp:   d.RampUp,
		RampDown: d.RampDown,
		RampInit: d.RampInit,
		Binary:   binary,
		Failsafe: d.Failsafe,
		Sleep:    d.Sleep,
	}
}

// Step returns the next applied value for one tick.
func Step(current, target float64, p Params) float64 {
	if current == target {
		return current
	}

	rate := p.RampUp
	if p.Binary {
		if math.Abs(target-p.Init) < 1 {
			rate = p.RampInit
		}
	} else {
		switch {
		case math.Abs(target-p.Init) <= p.Margin:
			rate = p.RampInit
		case (target-p.Init)*(current-p.Init) < 0:
			// Crossing init: come back to rest before heading the other way.
			rate = p.RampDown
			target = p.Init
		case math.Abs(target) < math.Abs(current):
			rate = p.RampDown
		}
	}

	if rate <= 0 {
		return target
	}

	switch {
	case current-target < -rate:
		return current + rate
	case current-target > rate:
		return current - rate
	default:
		return target
	}
}
