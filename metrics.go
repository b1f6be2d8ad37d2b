package openguard

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	oerrors "github.com/porthorian/openguard/pkg/errors"
)

const (
	resolutionSourceCache = "cache"
	resolutionSourceStore = "store"

	decisionAllow = "allow"
	decisionDeny  = "deny"
)

// Metrics holds the guard's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	IdentityResolutionsTotal      *prometheus.CounterVec
	IdentityResolutionErrorsTotal *prometheus.CounterVec
	AccessDecisionsTotal          *prometheus.CounterVec
}

// NewMetrics registers the collectors with registerer. Collectors that are
// already registered are reused so several clients can share one registry.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		return nil, nil
	}

	resolutions, err := registerCounterVec(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openguard",
			Name:      "identity_resolutions_total",
			Help:      "Identities resolved, by source.",
		},
		[]string{"source"},
	))
	if err != nil {
		return nil, err
	}

	resolutionErrors, err := registerCounterVec(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openguard",
			Name:      "identity_resolution_errors_total",
			Help:      "Failed identity resolutions, by error code.",
		},
		[]string{"code"},
	))
	if err != nil {
		return nil, err
	}

	decisions, err := registerCounterVec(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openguard",
			Name:      "access_decisions_total",
			Help:      "Access policy decisions, by outcome.",
		},
		[]string{"decision"},
	))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		IdentityResolutionsTotal:      resolutions,
		IdentityResolutionErrorsTotal: resolutionErrors,
		AccessDecisionsTotal:          decisions,
	}, nil
}

func registerCounterVec(registerer prometheus.Registerer, collector *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return collector, nil
}

func (m *Metrics) observeResolution(source string) {
	if m == nil {
		return
	}
	m.IdentityResolutionsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) observeResolutionError(err error) {
	if m == nil {
		return
	}
	m.IdentityResolutionErrorsTotal.WithLabelValues(string(oerrors.CodeOf(err))).Inc()
}

func (m *Metrics) observeDecision(err error) {
	if m == nil {
		return
	}
	decision := decisionAllow
	if err != nil {
		decision = decisionDeny
	}
	m.AccessDecisionsTotal.WithLabelValues(decision).Inc()
}
