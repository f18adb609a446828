package dimmer

import "time"

// Topics is the four-path wire contract. All paths are configurable; the
// defaults match the device's fixed firmware.
type Topics struct {
	PowerCommand      string
	PowerStatus       string
	BrightnessCommand string
	BrightnessStatus  string
}

// DefaultTopics returns the firmware-default topic paths.
func DefaultTopics() Topics {
	return Topics{
		PowerCommand:      "cmnd/dimmer/power",
		PowerStatus:       "stat/dimmer/POWER",
		BrightnessCommand: "cmnd/dimmer/dimmer",
		BrightnessStatus:  "stat/dimmer/RESULT",
	}
}

// Config bundles the dimmer behavior tunables.
type Config struct {
	Topics Topics

	MinimumBrightnessPercent int
	RampStepDelay            time.Duration
}

const (
	DefaultMinimumBrightnessPercent = 20
	DefaultRampStepDelay            = 100 * time.Millisecond
	// interruptionToleranceBand is the ±2% rounding tolerance absorbing
	// device telemetry rounding artefacts in the brightness-adjustment rule.
	interruptionToleranceBand = 2

	// defaultFreshBrightnessPercent is synthesized for a power-topic ON with
	// no prior cached state. See DESIGN.md for why this synthesis is kept
	// literal rather than leaving brightness unchanged.
	defaultFreshBrightnessPercent = 50
)

func (c Config) withDefaults() Config {
	if c.Topics == (Topics{}) {
		c.Topics = DefaultTopics()
	}
	if c.MinimumBrightnessPercent <= 0 {
		c.MinimumBrightnessPercent = DefaultMinimumBrightnessPercent
	}
	if c.RampStepDelay <= 0 {
		c.RampStepDelay = DefaultRampStepDelay
	}
	return c
}
