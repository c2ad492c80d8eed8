// Package config holds the settings shared by the pulseguard commands.
package config

import (
	"fmt"
	"time"

	"github.com/pulseguard/pulseguard/pkg/detectors"
	"github.com/pulseguard/pulseguard/pkg/heartrate"
)

// Options is the full configuration of a pulseguard process.
type Options struct {
	Detector   detectors.Config `json:"detector"`
	Window     time.Duration    `json:"window"`
	MinSamples int              `json:"minSamples"`
	Output     string           `json:"output"`
	Server     Server           `json:"server"`
	Redis      Redis            `json:"redis"`
}

// Server configures the HTTP API.
type Server struct {
	Listen          string        `json:"listen"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout"`
}

// Redis configures the sample history store. An empty Addr selects the in-memory store.
type Redis struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Detector:   detectors.DefaultConfig(),
		Window:     heartrate.DefaultWindow,
		MinSamples: heartrate.DefaultMinSamples,
		Output:     "text",
		Server: Server{
			Listen:          ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that the options can be used.
func (o *Options) Validate() error {
	if err := o.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if o.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", o.Window)
	}
	if o.MinSamples < heartrate.DefaultMinSamples {
		return fmt.Errorf("min samples must be at least %d, got %d", heartrate.DefaultMinSamples, o.MinSamples)
	}
	switch o.Output {
	case "text", "json":
	default:
		return fmt.Errorf("output must be text or json, got %q", o.Output)
	}
	return nil
}
