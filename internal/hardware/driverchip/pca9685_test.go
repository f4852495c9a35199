package driverchip

import "testing"

func TestPulseTicks(t *testing.T) {
	tests := []struct {
		pulse int
		hz    int
		want  int
	}{
		{pulse: 1500, hz: 50, want: 307},
		{pulse: 1000, hz: 50, want: 205},
		{pulse: 2000, hz: 50, want: 410},
		{pulse: 0, hz: 50, want: 0},
		{pulse: 30000, hz: 50, want: 4095},
	}

	for _, tt := range tests {
		if got := PulseTicks(tt.pulse, tt.hz); got != tt.want {
			t.Errorf("PulseTicks(%d, %d) = %d, want %d", tt.pulse, tt.hz, got, tt.want)
		}
	}
}

func TestDutyTicks(t *testing.T) {
	if got := DutyTicks(0.5); got != 2048 {
		t.Errorf("DutyTicks(0.5) = %d, want 2048", got)
	}
	if got := DutyTicks(-1); got != 0 {
		t.Errorf("DutyTicks(-1) = %d, want 0", got)
	}
	if got := DutyTicks(2); got != 4095 {
		t.Errorf("DutyTicks(2) = %d, want 4095", got)
	}
}
