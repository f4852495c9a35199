package mixer

import "math"

// Map linearly rescales n from [inMin, inMax] to [outMin, outMax],
// truncating toward zero.
func Map(n, inMin, inMax, outMin, outMax float64) int {
	return int(math.Trunc((n-inMin)*(outMax-outMin)/(inMax-inMin) + outMin))
}

// Transfer evaluates the piecewise-linear function given by the ascending
// breakpoints ins and their outputs outs. Values outside the breakpoints
// clamp to the first or last output.
func Transfer(ins, outs []float64, value float64) int {
	last := len(ins) - 1

	if value <= ins[0] {
		return int(outs[0])
	}
	if value > ins[last] {
		return int(outs[last])
	}

	for i := 0; i < last; i++ {
		if value <= ins[i+1] {
			return Map(value, ins[i], ins[i+1], outs[i], outs[i+1])
		}
	}
	return int(outs[last])
}
