package config

import (
	"fmt"
	"iter"
	"slices"
)

// Anomaly is an invalid configuration field that has been
// replaced with a fallback value.
type Anomaly struct {
	Field    string
	Reason   string
	Actual   any
	Fallback any
}

func (a *Anomaly) String() string {
	return fmt.Sprintf("%s %s (actual: %v, fallback: %v)", a.Field, a.Reason, a.Actual, a.Fallback)
}

// AnomalyCollector is an utility struct for collecting anomalies.
type AnomalyCollector struct {
	anomalies []*Anomaly
}

// NewAnomalyCollector returns an empty anomaly collector.
func NewAnomalyCollector() *AnomalyCollector {
	return &AnomalyCollector{
		anomalies: []*Anomaly{},
	}
}

func (ac *AnomalyCollector) add(field, reason string, actual, fallback any) {
	ac.anomalies = append(ac.anomalies, &Anomaly{
		Field:    field,
		Reason:   reason,
		Actual:   actual,
		Fallback: fallback,
	})
}

// Len returns the number of collected anomalies.
func (ac *AnomalyCollector) Len() int {
	return len(ac.anomalies)
}

// All iterates over the collected anomalies.
func (ac *AnomalyCollector) All() iter.Seq[*Anomaly] {
	return slices.Values(ac.anomalies)
}

func (ac *AnomalyCollector) reset() {
	ac.anomalies = ac.anomalies[:0]
}
