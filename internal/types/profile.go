package types

// Profile is the complete hardware and wire description of one robot.
// It is loaded once and replaced wholesale on reconfiguration.
type Profile struct {
	Commands16 []CommandDescriptor `json:"commands16" yaml:"commands16"`
	Commands8  []CommandDescriptor `json:"commands8" yaml:"commands8"`
	Commands1  []CommandDescriptor `json:"commands1" yaml:"commands1"`

	Values32 []SlotDescriptor `json:"values32" yaml:"values32"`
	Values16 []SlotDescriptor `json:"values16" yaml:"values16"`
	Values8  []SlotDescriptor `json:"values8" yaml:"values8"`

	Outputs      []OutputDescriptor     `json:"outputs" yaml:"outputs"`
	DriverChips  []DriverChipDescriptor `json:"driver_chips" yaml:"driver_chips"`
	PWMFrequency int                    `json:"pwm_frequency" yaml:"pwm_frequency"`
}

// Scale is a linear quantization range.
type Scale struct {
	Min float64 `json:"scale_min" yaml:"scale_min"`
	Max float64 `json:"scale_max" yaml:"scale_max"`
}

// CommandDescriptor describes one command slot of the command frame.
type CommandDescriptor struct {
	Name  string  `json:"name" yaml:"name"`
	Scale `yaml:",inline"`
	Init  float64 `json:"init" yaml:"init"`

	RampUp   float64 `json:"ramp_up" yaml:"ramp_up"`
	RampDown float64 `json:"ramp_down" yaml:"ramp_down"`
	RampInit float64 `json:"ramp_init" yaml:"ramp_init"`

	// Margin is the tolerance band around Init. When unset the
	// quantization step of the slot is used; an explicit 0 is kept.
	Margin *float64 `json:"margin,omitempty" yaml:"margin,omitempty"`

	Failsafe bool `json:"failsafe" yaml:"failsafe"`
	Sleep    bool `json:"sleep" yaml:"sleep"`
}

// SlotDescriptor describes one floating sensor slot of the telemetry frame.
type SlotDescriptor struct {
	Name  string `json:"name" yaml:"name"`
	Scale `yaml:",inline"`
}

type OutputKind string

const (
	OutputDigital    OutputKind = "Gpios"
	OutputServo      OutputKind = "Servos"
	OutputPWM        OutputKind = "Pwms"
	OutputPWMPair    OutputKind = "PwmPwm"
	OutputPWMDir     OutputKind = "PwmDir"
	OutputPWMDualDir OutputKind = "PwmDirDir"
)

// PinCount returns the exact number of pins the kind drives, or 0 when
// the kind accepts any positive number of pins.
func (k OutputKind) PinCount() int {
	switch k {
	case OutputPWMPair, OutputPWMDir:
		return 2
	case OutputPWMDualDir:
		return 3
	default:
		return 0
	}
}

func (k OutputKind) Valid() bool {
	switch k {
	case OutputDigital, OutputServo, OutputPWM, OutputPWMPair, OutputPWMDir, OutputPWMDualDir:
		return true
	}
	return false
}

type BackendType string

const (
	BackendDirect     BackendType = "gpio"
	BackendDriverChip BackendType = "pca9685"
)

type SleepMode string

const (
	SleepNone  SleepMode = "None"
	SleepHigh  SleepMode = "High"
	SleepLow   SleepMode = "Low"
	SleepInput SleepMode = "Input"
)

// Contribution is one weighted command feeding an output.
type Contribution struct {
	Index int     `json:"index" yaml:"index"`
	Gain  float64 `json:"gain" yaml:"gain"`
}

// OutputDescriptor describes one physical actuation point.
type OutputDescriptor struct {
	Name    string      `json:"name" yaml:"name"`
	Kind    OutputKind  `json:"kind" yaml:"kind"`
	Backend BackendType `json:"backend" yaml:"backend"`
	Chip    int         `json:"chip,omitempty" yaml:"chip,omitempty"`
	Pins    []int       `json:"pins" yaml:"pins"`

	// Ins must be ascending, Outs holds the matching outputs.
	Ins  []float64 `json:"ins" yaml:"ins"`
	Outs []float64 `json:"outs" yaml:"outs"`

	Commands16 []Contribution `json:"commands16,omitempty" yaml:"commands16,omitempty"`
	Commands8  []Contribution `json:"commands8,omitempty" yaml:"commands8,omitempty"`
	Commands1  []Contribution `json:"commands1,omitempty" yaml:"commands1,omitempty"`

	Backslash  float64     `json:"backslash,omitempty" yaml:"backslash,omitempty"`
	SleepModes []SleepMode `json:"sleep_modes,omitempty" yaml:"sleep_modes,omitempty"`
}

// DriverChipDescriptor describes one external PWM driver on the I2C bus.
type DriverChipDescriptor struct {
	Address   uint16 `json:"address" yaml:"address"`
	Frequency int    `json:"frequency" yaml:"frequency"`
}
