// Package config loads the adapter's TOML configuration file. Missing
// file falls back to defaults; Save writes owner-read-write only.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the config file looked for in the working directory.
const ConfigFileName = ".ecal-dap.toml"

// Config is the adapter's top-level configuration.
type Config struct {
	// Transport selects how the adapter is reached: "stdio" or
	// "tcp:<port>".
	Transport string `toml:"transport,omitempty"`

	Debugger DebuggerConfig `toml:"debugger,omitempty"`
	Log      LogConfig      `toml:"log,omitempty"`
}

// DebuggerConfig controls breakpoint and pause behavior.
type DebuggerConfig struct {
	// OptimisticVerification, when true, reports every newly set
	// breakpoint as verified=true without asking the interpreter
	// collaborator to validate the line mapping.
	OptimisticVerification bool `toml:"optimistic_verification"`

	// StopOnEntryDefault is used when a launch request omits
	// stopOnEntry.
	StopOnEntryDefault bool `toml:"stop_on_entry_default"`
}

// LogConfig controls the diagnostics ring buffer and output throttling.
type LogConfig struct {
	// BufferSize is the number of diagnostic entries retained in memory.
	BufferSize int `toml:"buffer_size"`

	// OutputEventsPerSecond / OutputBurst bound the rate of `output`
	// DAP events emitted for interpreter console writes.
	OutputEventsPerSecond float64 `toml:"output_events_per_second"`
	OutputBurst           int     `toml:"output_burst"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Transport: "stdio",
		Debugger: DebuggerConfig{
			OptimisticVerification: true,
			StopOnEntryDefault:     false,
		},
		Log: LogConfig{
			BufferSize:            10000,
			OutputEventsPerSecond: 200,
			OutputBurst:           50,
		},
	}
}

// Load reads ConfigFileName from dir, falling back to DefaultConfig if
// the file does not exist.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to dir, owner-read-write only.
func (c *Config) Save(dir string) error {
	configPath := filepath.Join(dir, ConfigFileName)

	file, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(c)
}
