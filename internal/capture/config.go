package capture

import (
	"fmt"
)

// Config describes which camera to open. It is a value type; copies handed to
// a factory cannot affect the caller's.
type Config struct {
	Kind   Kind
	Device int
	Stereo bool
}

// NewConfig builds a validated Config.
func NewConfig(kind Kind, device int, stereo bool) (Config, error) {
	cfg := Config{Kind: kind, Device: device, Stereo: stereo}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the kind range and the device index.
func (c Config) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("invalid backend kind %d", int(c.Kind))
	}
	if c.Device < 0 {
		return fmt.Errorf("device id must be non-negative, got %d", c.Device)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%s device=%d stereo=%t", c.Kind, c.Device, c.Stereo)
}
