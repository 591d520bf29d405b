package config

import (
	"github.com/FerroO2000/falconudp/internal"
)

// Validator is an utility struct for validating a configuration.
// The anomalies are reported as warnings.
type Validator struct {
	tel *internal.Telemetry

	anomalyCollector *AnomalyCollector
}

// NewValidator returns a new validator.
func NewValidator(tel *internal.Telemetry) *Validator {
	return &Validator{
		tel: tel,

		anomalyCollector: NewAnomalyCollector(),
	}
}

// Validate validates the given configuration and returns
// the number of anomalies found.
func (v *Validator) Validate(cfg Config) int {
	defer v.anomalyCollector.reset()

	cfg.Validate(v.anomalyCollector)

	for an := range v.anomalyCollector.All() {
		v.tel.LogWarn("config anomaly",
			"field", an.Field, "reason", an.Reason,
			"actual", an.Actual, "fallback", an.Fallback)
	}

	return v.anomalyCollector.Len()
}
