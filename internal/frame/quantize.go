package frame

import (
	"math"

	"github.com/efeuentertainment/vigiclient/internal/types"
)

// Full-scale raw values per field width.
const (
	Full8  = math.MaxUint8
	Full16 = math.MaxUint16
	Full32 = math.MaxUint32
)

// Dequantize maps a raw unsigned value onto the scale range:
// min + raw * (max - min) / full.
func Dequantize(raw uint64, full uint64, s types.Scale) float64 {
	return s.Min + float64(raw)*(s.Max-s.Min)/float64(full)
}

// Quantize is the inverse of Dequantize, rounded to the nearest raw value
// and clamped to [0, full].
func Quantize(v float64, full uint64, s types.Scale) uint64 {
	span := s.Max - s.Min
	if span == 0 || math.IsNaN(v) {
		return 0
	}
	r := math.Round((v - s.Min) * float64(full) / span)
	if r <= 0 {
		return 0
	}
	if r >= float64(full) {
		return full
	}
	return uint64(r)
}
