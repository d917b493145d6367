// Package config loads run configuration for axonbatch from YAML or JSON files
// and AXONBATCH_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"axonbatch/internal/callback"
	"axonbatch/internal/storage"
)

// Protocol names accepted in Config.Protocol.Kind.
const (
	ProtocolBatch      = "batch"
	ProtocolSweep      = "sweep"
	ProtocolBlock      = "block"
	ProtocolActivation = "activation"
	ProtocolBisect     = "bisect"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config contains all settings of a run.
type Config struct {
	// DT is the integration timestep in ms.
	DT float64 `json:"dt" yaml:"dt"`

	// Threshold is the activation threshold in mV.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	Saving   callback.SavingConfig `json:"saving" yaml:"saving"`
	Protocol ProtocolConfig        `json:"protocol" yaml:"protocol"`
	Model    ModelConfig           `json:"model" yaml:"model"`
	Store    StoreConfig           `json:"store" yaml:"store"`
	Logging  LoggingConfig         `json:"logging" yaml:"logging"`
}

// ProtocolConfig selects the amplitude protocol. Amplitudes are used by the
// sweep, block and activation searches; Lo, Hi and RelTol by bisection.
type ProtocolConfig struct {
	Kind       string    `json:"kind" yaml:"kind"`
	Amplitudes []float64 `json:"amplitudes,omitempty" yaml:"amplitudes,omitempty"`
	Lo         float64   `json:"lo,omitempty" yaml:"lo,omitempty"`
	Hi         float64   `json:"hi,omitempty" yaml:"hi,omitempty"`
	RelTol     float64   `json:"rel_tol,omitempty" yaml:"rel_tol,omitempty"`
	MaxIter    int       `json:"max_iter,omitempty" yaml:"max_iter,omitempty"`
}

// ModelConfig parameterizes the linear reference surrogate.
type ModelConfig struct {
	Rest    float64 `json:"rest" yaml:"rest"`
	Gain    float64 `json:"gain" yaml:"gain"`
	DiamRef float64 `json:"diam_ref" yaml:"diam_ref"`
}

type StoreConfig struct {
	// Kind is one of memory, archive or sqlite.
	Kind string `json:"kind" yaml:"kind"`

	// Path is the archive root directory or the sqlite database file.
	Path string `json:"path" yaml:"path"`
}

type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" and above write invocations.jsonl under TraceDir.
	Level    string `json:"level" yaml:"level"`
	TraceDir string `json:"trace_dir,omitempty" yaml:"trace_dir,omitempty"`
}

func Default() *Config {
	return &Config{
		DT:        0.005,
		Threshold: -20,
		Saving: callback.SavingConfig{
			SfapWindow: callback.DefaultSfapWindow,
		},
		Protocol: ProtocolConfig{
			Kind: ProtocolBatch,
		},
		Model: ModelConfig{
			Rest:    -80,
			Gain:    1,
			DiamRef: 5.7,
		},
		Store: StoreConfig{
			Kind: storage.DefaultStoreKind(),
			Path: "results",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .env from the working directory when present, then path (if
// non-empty), then applies environment overrides.
// Order: defaults -> file -> environment variables
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	config := Default()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads a YAML file, or a JSON file when the extension is .json.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, config)
	} else {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DT <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %g", ErrInvalidConfig, c.DT)
	}
	if c.Saving.Sfap && c.Saving.SfapWindow[0] >= c.Saving.SfapWindow[1] {
		return fmt.Errorf("%w: sfap_window start must precede end, got %v", ErrInvalidConfig, c.Saving.SfapWindow)
	}

	switch c.Protocol.Kind {
	case ProtocolBatch:
	case ProtocolSweep, ProtocolBlock, ProtocolActivation:
		if len(c.Protocol.Amplitudes) == 0 {
			return fmt.Errorf("%w: protocol %s requires amplitudes", ErrInvalidConfig, c.Protocol.Kind)
		}
	case ProtocolBisect:
		if c.Protocol.Hi == 0 {
			return fmt.Errorf("%w: protocol bisect requires hi", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown protocol %q (valid: batch, sweep, block, activation, bisect)", ErrInvalidConfig, c.Protocol.Kind)
	}

	if c.Model.DiamRef <= 0 {
		return fmt.Errorf("%w: model diam_ref must be positive, got %g", ErrInvalidConfig, c.Model.DiamRef)
	}

	validStores := map[string]bool{storage.KindMemory: true, storage.KindArchive: true, storage.KindSQLite: true}
	if !validStores[c.Store.Kind] {
		return fmt.Errorf("%w: invalid store kind %q (valid: memory, archive, sqlite)", ErrInvalidConfig, c.Store.Kind)
	}
	if c.Store.Kind != storage.KindMemory && c.Store.Path == "" {
		return fmt.Errorf("%w: store %s requires a path", ErrInvalidConfig, c.Store.Kind)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true, "warn": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: invalid log level %q (valid: info, debug, trace, warn, or empty for default)", ErrInvalidConfig, c.Logging.Level)
	}
	return nil
}

func applyEnvOverrides(config *Config) error {
	floats := []struct {
		name string
		dst  *float64
	}{
		{"AXONBATCH_DT", &config.DT},
		{"AXONBATCH_THRESHOLD", &config.Threshold},
	}
	for _, f := range floats {
		v := os.Getenv(f.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, f.name, v)
		}
		*f.dst = parsed
	}

	if v := os.Getenv("AXONBATCH_STORE"); v != "" {
		config.Store.Kind = v
	}
	if v := os.Getenv("AXONBATCH_STORE_PATH"); v != "" {
		config.Store.Path = v
	}
	if v := os.Getenv("AXONBATCH_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("AXONBATCH_TRACE_DIR"); v != "" {
		config.Logging.TraceDir = v
	}
	if v := os.Getenv("AXONBATCH_SAVE_VM"); v != "" {
		config.Saving.Vm = v == "true" || v == "1"
	}
	return nil
}
