// Package config contains the helpers used for validating
// the configurations across the library.
//
// A configuration never fails validation: every invalid field
// is replaced with a fallback value and reported as an anomaly.
package config

// Config defines the minimal interface for a configuration
// in order to be validated.
type Config interface {
	// Validate checks the configuration.
	Validate(ac *AnomalyCollector)
}
