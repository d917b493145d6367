package callback

// SavingConfig selects which optional extractions are attached to a run.
type SavingConfig struct {
	Vm         bool       `json:"vm" yaml:"vm"`
	APLatency  bool       `json:"aplatency" yaml:"aplatency"`
	Sfap       bool       `json:"sfap" yaml:"sfap"`
	SfapWindow [2]float64 `json:"sfap_window" yaml:"sfap_window"`
}

// FromSaving builds the callback set for a saving configuration. The
// activation counter over every node is always registered first.
func FromSaving(cfg SavingConfig, threshold, dt float64, nodes int) (*Set, error) {
	all := make([]int, nodes)
	for i := range all {
		all[i] = i
	}
	callbacks := []Callback{NewAPCount(all, threshold, dt)}
	if cfg.Vm {
		callbacks = append(callbacks, NewVmLogger())
	}
	if cfg.APLatency {
		callbacks = append(callbacks, NewLatencyLogger(threshold, dt, nil))
	}
	if cfg.Sfap {
		window := cfg.SfapWindow
		if window == [2]float64{} {
			window = DefaultSfapWindow
		}
		callbacks = append(callbacks, NewSfapLogger(threshold, dt, window))
	}
	return NewSet(callbacks...)
}
