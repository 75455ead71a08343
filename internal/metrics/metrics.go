// Package metrics holds the Prometheus collectors for the crawler, the
// credential linker and the engagement engine.
//
// A nil *Metrics is valid and records nothing, so engines can be built
// without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "myriad"

type Metrics struct {
	// CrawlItemsTotal counts normalized feed items by platform and outcome
	// (created, duplicate, failed).
	CrawlItemsTotal *prometheus.CounterVec

	// CrawlFetchesTotal counts per-person fetches by platform and status
	// (ok, error, timeout).
	CrawlFetchesTotal *prometheus.CounterVec

	// PeopleCreatedTotal counts Person rows created by the crawler.
	PeopleCreatedTotal *prometheus.CounterVec

	// ReconcileDurationSeconds measures a full reconcile run per platform.
	ReconcileDurationSeconds *prometheus.HistogramVec

	// PurgedPostsTotal counts posts removed by the tombstone sweep.
	PurgedPostsTotal prometheus.Counter

	// CredentialLinksTotal counts linkAccount outcomes.
	CredentialLinksTotal *prometheus.CounterVec

	// TogglesTotal counts toggles by reference type and resulting state.
	TogglesTotal *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CrawlItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "items_total",
			Help:      "Feed items processed by platform and outcome.",
		}, []string{"platform", "outcome"}),
		CrawlFetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "fetches_total",
			Help:      "Per-person platform fetches by status.",
		}, []string{"platform", "status"}),
		PeopleCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "people_created_total",
			Help:      "People created while reconciling feeds.",
		}, []string{"platform"}),
		ReconcileDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of a full reconcile run.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"platform"}),
		PurgedPostsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "purged_posts_total",
			Help:      "Imported posts deleted because upstream removed them.",
		}),
		CredentialLinksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credentials",
			Name:      "links_total",
			Help:      "Account link attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		TogglesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engagement",
			Name:      "toggles_total",
			Help:      "Engagement toggles by reference type and resulting state.",
		}, []string{"type", "state"}),
	}
}

func (m *Metrics) CrawlItem(platform, outcome string) {
	if m == nil {
		return
	}
	m.CrawlItemsTotal.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) CrawlFetch(platform, status string) {
	if m == nil {
		return
	}
	m.CrawlFetchesTotal.WithLabelValues(platform, status).Inc()
}

func (m *Metrics) PersonCreated(platform string) {
	if m == nil {
		return
	}
	m.PeopleCreatedTotal.WithLabelValues(platform).Inc()
}

func (m *Metrics) ObserveReconcile(platform string, seconds float64) {
	if m == nil {
		return
	}
	m.ReconcileDurationSeconds.WithLabelValues(platform).Observe(seconds)
}

func (m *Metrics) PostPurged() {
	if m == nil {
		return
	}
	m.PurgedPostsTotal.Inc()
}

func (m *Metrics) CredentialLink(platform, outcome string) {
	if m == nil {
		return
	}
	m.CredentialLinksTotal.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) Toggle(refType string, state bool) {
	if m == nil {
		return
	}
	label := "retracted"
	if state {
		label = "active"
	}
	m.TogglesTotal.WithLabelValues(refType, label).Inc()
}
