/*
Package config loads event bus settings from YAML or JSON.

# Overview

Config wraps a map[string]any and provides typed accessor methods that return
defaults for missing keys and type mismatches. Bus turns a loaded Config into
BusSettings, which eventbus.NewFromSettings consumes.

# Basic Usage

	settings, err := config.Load("eventbus.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	bus, err := eventbus.NewFromSettings(settings)

Load is FromFile, Bus and Validate in one call. Errors name the file.

# Type Coercion

Duration accepts a time.ParseDuration string ("250ms", "1s"), a bare number of
milliseconds, or a time.Duration. It reads publish_timeout. Int accepts float64 values only when they
have no fractional part, which is how JSON numbers arrive.

Nested sections are read with Sub:

	diag := cfg.Sub("diagnostics")
	sink := diag.String("sink", config.SinkMemory)

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
