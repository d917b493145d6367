package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"axonbatch/internal/config"
	"axonbatch/internal/logging"
	"axonbatch/internal/surrogate"
	"axonbatch/pkg/axonbatch"
)

type app struct {
	cfg    *config.Config
	client *axonbatch.Client
	trace  *logging.InvocationLog
}

// loadConfig resolves defaults, the --config file, AXONBATCH_* variables and
// then explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command, protocolKind string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	overrideString := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	overrideFloat := func(name string, dst *float64) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetFloat64(name)
		}
	}
	overrideBool := func(name string, dst *bool) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}

	overrideString("store", &cfg.Store.Kind)
	overrideString("store-path", &cfg.Store.Path)
	overrideString("log-level", &cfg.Logging.Level)
	overrideString("trace-dir", &cfg.Logging.TraceDir)
	overrideFloat("dt", &cfg.DT)
	overrideFloat("threshold", &cfg.Threshold)
	overrideBool("vm", &cfg.Saving.Vm)
	overrideBool("latency", &cfg.Saving.APLatency)
	overrideBool("sfap", &cfg.Saving.Sfap)
	overrideFloat("lo", &cfg.Protocol.Lo)
	overrideFloat("hi", &cfg.Protocol.Hi)
	overrideFloat("rel-tol", &cfg.Protocol.RelTol)
	if flags.Lookup("amps") != nil && flags.Changed("amps") {
		cfg.Protocol.Amplitudes, _ = flags.GetFloat64Slice("amps")
	}
	if protocolKind != "" {
		cfg.Protocol.Kind = protocolKind
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(cmd *cobra.Command, protocolKind string) (*app, error) {
	cfg, err := loadConfig(cmd, protocolKind)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)
	var trace *logging.InvocationLog
	if cfg.Logging.TraceDir != "" {
		trace = logging.NewInvocationLog(cfg.Logging.TraceDir, cfg.Logging.Level)
	}

	client, err := axonbatch.New(axonbatch.Options{
		StoreKind: cfg.Store.Kind,
		StorePath: cfg.Store.Path,
		Model: &surrogate.Linear{
			Rest:    cfg.Model.Rest,
			Gain:    cfg.Model.Gain,
			DiamRef: cfg.Model.DiamRef,
		},
		Logger: logger,
		Trace:  trace,
	})
	if err != nil {
		_ = trace.Close()
		return nil, err
	}
	return &app{cfg: cfg, client: client, trace: trace}, nil
}

func (a *app) settings() axonbatch.Settings {
	return axonbatch.Settings{DT: a.cfg.DT, Threshold: a.cfg.Threshold, Saving: a.cfg.Saving}
}

func (a *app) close() error {
	return errors.Join(a.client.Close(), a.trace.Close())
}
