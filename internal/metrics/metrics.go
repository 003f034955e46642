// Package metrics exposes governance outcomes as Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "outputguard"

// Validation results used as the "result" label.
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultNoJSON  = "no_json"
)

// Repair outcomes used as the "outcome" label.
const (
	RepairClean     = "clean"     // valid before any round
	RepairRepaired  = "repaired"  // valid after one or more rounds
	RepairExhausted = "exhausted" // still invalid after maxRetries rounds
	RepairAborted   = "aborted"   // transport failure or cancellation
	RepairNoJSON    = "no_json"   // nothing to repair
)

type Metrics struct {
	validations      *prometheus.CounterVec
	violations       *prometheus.CounterVec
	secretsMasked    *prometheus.CounterVec
	validateDuration prometheus.Histogram
	repairs          *prometheus.CounterVec
	repairRounds     prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg means
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validate calls by result.",
		}, []string{"result"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Hard-rule violations by kind.",
		}, []string{"kind"}),
		secretsMasked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secrets_masked_total",
			Help:      "Masked secret occurrences by rule.",
		}, []string{"rule"}),
		validateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validate_duration_seconds",
			Help:      "Time spent in one Validate call.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "AutoRepair calls by outcome.",
		}, []string{"outcome"}),
		repairRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repair_rounds",
			Help:      "Chat calls made per AutoRepair.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.validations, m.violations, m.secretsMasked,
		m.validateDuration, m.repairs, m.repairRounds,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("metrics already registered: %w", err)
			}
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveValidation records one Validate call.
func (m *Metrics) ObserveValidation(result string, violationKinds []string, secretCounts map[string]int, d time.Duration) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
	for _, k := range violationKinds {
		m.violations.WithLabelValues(k).Inc()
	}
	for rule, n := range secretCounts {
		m.secretsMasked.WithLabelValues(rule).Add(float64(n))
	}
	m.validateDuration.Observe(d.Seconds())
}

// ObserveRepair records one AutoRepair call.
func (m *Metrics) ObserveRepair(outcome string, rounds int) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(outcome).Inc()
	m.repairRounds.Observe(float64(rounds))
}
