package ramp

// Slot is the mutable state of one command.
type Slot struct {
	Target  float64
	Current float64
}

// Bank is the state arena for one command width, indexed by the
// configuration-assigned slot index.
type Bank struct {
	params []Params
	slots  []Slot
}

func NewBank(params []Params) *Bank {
	b := &Bank{
		params: params,
		slots:  make([]Slot, len(params)),
	}
	b.Reset()
	return b
}

// Reset puts every slot back to its init value.
func (b *Bank) Reset() {
	for i, p := range b.params {
		b.slots[i] = Slot{Target: p.Init, Current: p.Init}
	}
}

func (b *Bank) Len() int {
	return len(b.slots)
}

func (b *Bank) SetTarget(i int, v float64) {
	b.slots[i].Target = v
}

func (b *Bank) Target(i int) float64 {
	return b.slots[i].Target
}

func (b *Bank) Current(i int) float64 {
	return b.slots[i].Current
}

// Currents returns a copy of the applied values.
func (b *Bank) Currents() []float64 {
	out := make([]float64, len(b.slots))
	for i, s := range b.slots {
		out[i] = s.Current
	}
	return out
}

func (b *Bank) Params(i int) Params {
	return b.params[i]
}

// ForceFailsafe sets every failsafe-eligible target to init.
func (b *Bank) ForceFailsafe() {
	for i, p := range b.params {
		if p.Failsafe {
			b.slots[i].Target = p.Init
		}
	}
}

// ForceSleep sets every sleep- or failsafe-eligible target to init.
func (b *Bank) ForceSleep() {
	for i, p := range b.params {
		if p.Sleep || p.Failsafe {
			b.slots[i].Target = p.Init
		}
	}
}

// Advance steps every slot once and reports whether anything moved.
func (b *Bank) Advance() bool {
	changed := false
	for i := range b.slots {
		s := &b.slots[i]
		if s.Current == s.Target {
			continue
		}
		changed = true
		s.Current = Step(s.Current, s.Target, b.params[i])
	}
	return changed
}
