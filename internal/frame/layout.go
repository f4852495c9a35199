package frame

import "github.com/efeuentertainment/vigiclient/internal/types"

// Marker bytes.
const (
	Marker           byte = '$'
	SubtypeStatus    byte = 'S'
	SubtypeText      byte = 'T'
	SubtypeTelemetry byte = 'R'

	MarkerSize = 2
	CameraSize = 1
)

// Layout holds the slot counts that fix every byte offset of both frames.
// Encoder and decoder must be built from the same counts.
type Layout struct {
	Commands16 int
	Commands8  int
	Commands1  int
	Values32   int
	Values16   int
	Values8    int
}

func LayoutOf(p *types.Profile) Layout {
	return Layout{
		Commands16: len(p.Commands16),
		Commands8:  len(p.Commands8),
		Commands1:  len(p.Commands1),
		Values32:   len(p.Values32),
		Values16:   len(p.Values16),
		Values8:    len(p.Values8),
	}
}

// BoolBytes returns ceil(k/8).
func BoolBytes(k int) int {
	return (k + 7) / 8
}

func (l Layout) commandsSize() int {
	return 2*l.Commands16 + l.Commands8 + BoolBytes(l.Commands1) + CameraSize
}

// CommandFrameSize is 2 + 2N + M + ceil(K/8) + 1.
func (l Layout) CommandFrameSize() int {
	return MarkerSize + l.commandsSize()
}

// TelemetryFrameSize adds the sensor slots to the echoed command block.
func (l Layout) TelemetryFrameSize() int {
	return MarkerSize + l.commandsSize() + 4*l.Values32 + 2*l.Values16 + l.Values8
}
