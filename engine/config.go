// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-engineloop/eventloop"
	"github.com/joeycumines/go-engineloop/suspend"
	"gopkg.in/yaml.v3"
)

// Config is the engine configuration, typically loaded from YAML.
type Config struct {
	Log LogConfig `yaml:"log"`
	// Loops configures each subsystem loop, keyed by loop name. Every entry
	// other than main and stdin is started by New. The main loop always
	// exists, and the stdin loop is created on first use, or by Run if
	// Stdin is set.
	Loops           map[string]LoopConfig `yaml:"loops"`
	Network         NetworkConfig         `yaml:"network"`
	Suspend         SuspendConfig         `yaml:"suspend"`
	Script          string                `yaml:"script,omitempty"`
	SafetyThreshold int                   `yaml:"safety_threshold"`
	Metrics         bool                  `yaml:"metrics"`
	// Stdin starts the stdin loop when the engine runs, passing each input
	// line to the script's onStdin function.
	Stdin bool `yaml:"stdin"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoopConfig configures a single loop.
type LoopConfig struct {
	// CPU pins the loop's thread, if set.
	CPU             *int `yaml:"cpu,omitempty"`
	InterpreterLock bool `yaml:"interpreter_lock"`
}

// NetworkConfig configures the datagram reader. It is disabled unless
// Listen is set.
type NetworkConfig struct {
	Listen      string `yaml:"listen,omitempty"`
	MaxDatagram int    `yaml:"max_datagram"`
}

// SuspendConfig configures pausing.
type SuspendConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// Signals enables handling of stop, continue and interrupt signals, while
	// the engine runs.
	Signals bool `yaml:"signals"`
}

const (
	FormatJSON = "json"
	FormatText = "text"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: FormatJSON,
		},
		Loops: map[string]LoopConfig{
			eventloop.IDLogic.String():        {InterpreterLock: true},
			eventloop.IDAssets.String():       {},
			eventloop.IDFileOut.String():      {},
			eventloop.IDMain.String():         {InterpreterLock: true},
			eventloop.IDAudio.String():        {},
			eventloop.IDBGDynamics.String():   {},
			eventloop.IDNetworkWrite.String(): {},
			eventloop.IDGraphics.String():     {},
		},
		Network: NetworkConfig{
			MaxDatagram: 65535,
		},
		Suspend: SuspendConfig{
			Timeout:      suspend.DefaultTimeout,
			PollInterval: suspend.DefaultPollInterval,
			Signals:      true,
		},
		SafetyThreshold: eventloop.DefaultSafetyThreshold,
	}
}

// ParseConfig decodes YAML over DefaultConfig. Unknown fields are an error.
// A loops mapping replaces the default loops, rather than adding to them.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("engine: invalid config: %w", err)
	}
	if hasKey(&doc, "loops") {
		cfg.Loops = nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("engine: invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func hasKey(doc *yaml.Node, key string) bool {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return false
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return true
		}
	}
	return false
}

// LoadConfig reads and parses the file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// WriteYAML encodes the config.
func (x Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(x); err != nil {
		return err
	}
	return enc.Close()
}

// Validate checks the config is usable.
func (x Config) Validate() error {
	if _, err := ParseLevel(x.Log.Level); err != nil {
		return err
	}
	switch x.Log.Format {
	case FormatJSON, FormatText:
	default:
		return fmt.Errorf("engine: unknown log format %q", x.Log.Format)
	}
	for name, loop := range x.Loops {
		if _, err := eventloop.ParseID(name); err != nil {
			return fmt.Errorf("engine: loop %q: %w", name, err)
		}
		if loop.CPU != nil && *loop.CPU < 0 {
			return fmt.Errorf("engine: loop %q: negative cpu %d", name, *loop.CPU)
		}
	}
	if x.SafetyThreshold <= 0 {
		return fmt.Errorf("engine: safety_threshold must be positive, got %d", x.SafetyThreshold)
	}
	if x.Suspend.Timeout <= 0 || x.Suspend.PollInterval <= 0 {
		return errors.New("engine: suspend timeout and poll_interval must be positive")
	}
	if x.Network.Listen != "" {
		if x.Network.MaxDatagram <= 0 {
			return fmt.Errorf("engine: max_datagram must be positive, got %d", x.Network.MaxDatagram)
		}
		if _, ok := x.Loops[eventloop.IDNetworkWrite.String()]; !ok {
			return errors.New("engine: network requires the network_write loop")
		}
	}
	if _, ok := x.Loops[eventloop.IDLogic.String()]; !ok && (x.Script != "" || x.Network.Listen != "") {
		return errors.New("engine: script and network require the logic loop")
	}
	return nil
}

// loopOptions translates the config for the named loop.
func (x Config) loopOptions(id eventloop.ID) (opts []eventloop.LoopOption, lock bool) {
	loop := x.Loops[id.String()]
	opts = append(opts,
		eventloop.WithSafetyThreshold(x.SafetyThreshold),
		eventloop.WithMetrics(x.Metrics),
	)
	if loop.CPU != nil {
		opts = append(opts, eventloop.WithCPUAffinity(*loop.CPU))
	}
	return opts, loop.InterpreterLock
}
