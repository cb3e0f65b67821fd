package config

import (
	"errors"
	"fmt"
	"time"
)

// Diagnostics sink kinds.
const (
	SinkMemory = "memory"
	SinkSQLite = "sqlite"
	SinkNone   = "none"
)

// Defaults applied by Bus when a key is absent.
const (
	DefaultName                = "eventbus"
	DefaultDiagnosticsCapacity = 1000
)

// ErrInvalidSettings is returned by Validate.
var ErrInvalidSettings = errors.New("invalid bus settings")

// BusSettings is the typed form of a bus configuration section.
type BusSettings struct {
	Name           string
	ReplayCapacity int
	MaxSequencers  int
	// PublishTimeout bounds how long a publish waits for lagging
	// subscribers. 0 waits until they catch up.
	PublishTimeout time.Duration
	Metrics        bool
	Tracing        bool
	Diagnostics    DiagnosticsSettings
}

// DiagnosticsSettings selects where delivery failures are recorded.
type DiagnosticsSettings struct {
	Sink     string
	Path     string
	Capacity int
}

// Bus extracts BusSettings from cfg, filling in defaults for missing keys.
//
//	name: orders
//	replay_capacity: 16
//	max_sequencers: 32
//	publish_timeout: 500ms
//	metrics: true
//	tracing: false
//	diagnostics:
//	  sink: sqlite
//	  path: ./failures.db
//	  capacity: 1000
func Bus(cfg Config) BusSettings {
	diag := cfg.Sub("diagnostics")
	return BusSettings{
		Name:           cfg.String("name", DefaultName),
		ReplayCapacity: cfg.Int("replay_capacity", 0),
		MaxSequencers:  cfg.Int("max_sequencers", 0),
		PublishTimeout: cfg.Duration("publish_timeout", 0),
		Metrics:        cfg.Bool("metrics", false),
		Tracing:        cfg.Bool("tracing", false),
		Diagnostics: DiagnosticsSettings{
			Sink:     diag.String("sink", SinkMemory),
			Path:     diag.String("path", ""),
			Capacity: diag.Int("capacity", DefaultDiagnosticsCapacity),
		},
	}
}

// Validate reports the first problem found in s.
func (s BusSettings) Validate() error {
	if s.ReplayCapacity < 0 {
		return fmt.Errorf("%w: replay_capacity must be >= 0, got %d", ErrInvalidSettings, s.ReplayCapacity)
	}
	if s.MaxSequencers < 0 {
		return fmt.Errorf("%w: max_sequencers must be >= 0, got %d", ErrInvalidSettings, s.MaxSequencers)
	}
	if s.PublishTimeout < 0 {
		return fmt.Errorf("%w: publish_timeout must be >= 0, got %s", ErrInvalidSettings, s.PublishTimeout)
	}
	if s.Diagnostics.Capacity < 0 {
		return fmt.Errorf("%w: diagnostics.capacity must be >= 0, got %d", ErrInvalidSettings, s.Diagnostics.Capacity)
	}
	switch s.Diagnostics.Sink {
	case SinkMemory, SinkNone:
	case SinkSQLite:
		if s.Diagnostics.Path == "" {
			return fmt.Errorf("%w: diagnostics.path is required for the sqlite sink", ErrInvalidSettings)
		}
	default:
		return fmt.Errorf("%w: unknown diagnostics.sink %q", ErrInvalidSettings, s.Diagnostics.Sink)
	}
	return nil
}
