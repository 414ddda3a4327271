package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName  = "github.com/elgarage/garage"
	tracerName = "github.com/elgarage/garage"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Login metrics, attribute "outcome"
	LoginAttemptsTotal metric.Int64Counter
	LogoutsTotal       metric.Int64Counter

	// Session metrics
	SessionsCreatedTotal   metric.Int64Counter
	SessionsDestroyedTotal metric.Int64Counter
	SessionsSweptTotal     metric.Int64Counter

	// Request gate metrics
	CSRFRejectionsTotal metric.Int64Counter
	AuthzDenialsTotal   metric.Int64Counter

	// Credential metrics
	PasswordHashDuration metric.Float64Histogram
	PasswordRehashTotal  metric.Int64Counter

	// Store metrics
	StoreRetriesTotal     metric.Int64Counter
	StoreUnavailableTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments. Instruments come
// from the global provider, which is a no-op until InitTelemetry runs.
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.LoginAttemptsTotal, _ = meter.Int64Counter(
		"garage.login.attempts.total",
		metric.WithDescription("Total number of login attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)

	m.LogoutsTotal, _ = meter.Int64Counter(
		"garage.logout.total",
		metric.WithDescription("Total number of logouts"),
		metric.WithUnit("{logout}"),
	)

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"garage.sessions.created.total",
		metric.WithDescription("Total number of sessions created, by kind"),
		metric.WithUnit("{session}"),
	)

	m.SessionsDestroyedTotal, _ = meter.Int64Counter(
		"garage.sessions.destroyed.total",
		metric.WithDescription("Total number of sessions destroyed, by reason"),
		metric.WithUnit("{session}"),
	)

	m.SessionsSweptTotal, _ = meter.Int64Counter(
		"garage.sessions.swept.total",
		metric.WithDescription("Total number of expired sessions removed by the sweeper"),
		metric.WithUnit("{session}"),
	)

	m.CSRFRejectionsTotal, _ = meter.Int64Counter(
		"garage.csrf.rejections.total",
		metric.WithDescription("Total number of requests rejected for a missing or invalid CSRF token"),
		metric.WithUnit("{request}"),
	)

	m.AuthzDenialsTotal, _ = meter.Int64Counter(
		"garage.authz.denials.total",
		metric.WithDescription("Total number of requests denied by the authorization gate"),
		metric.WithUnit("{request}"),
	)

	m.PasswordHashDuration, _ = meter.Float64Histogram(
		"garage.password.hash.duration",
		metric.WithDescription("Time spent deriving password hashes"),
		metric.WithUnit("ms"),
	)

	m.PasswordRehashTotal, _ = meter.Int64Counter(
		"garage.password.rehash.total",
		metric.WithDescription("Total number of stored hashes upgraded after login"),
		metric.WithUnit("{hash}"),
	)

	m.StoreRetriesTotal, _ = meter.Int64Counter(
		"garage.store.retries.total",
		metric.WithDescription("Total number of retried store operations"),
		metric.WithUnit("{retry}"),
	)

	m.StoreUnavailableTotal, _ = meter.Int64Counter(
		"garage.store.unavailable.total",
		metric.WithDescription("Total number of requests failed closed because the store was unavailable"),
		metric.WithUnit("{request}"),
	)

	return m
}

// Tracer returns the tracer used for request spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
