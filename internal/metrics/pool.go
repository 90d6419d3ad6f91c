package metrics

import (
	"strconv"
	"time"

	"github.com/relaypool/relaypool/internal/observability"
	"github.com/relaypool/relaypool/internal/pool"
)

// Pool metric names
const (
	PoolAttemptsTotal    = "pool_attempts_total"
	PoolAttemptDuration  = "pool_attempt_duration_ms"
	PoolExhaustedTotal   = "pool_exhausted_total"
	PoolProbesTotal      = "pool_probes_total"
	PoolHealthyEndpoints = "pool_healthy_endpoints"
	PoolEndpoints        = "pool_endpoints"
	EndpointInFlight     = "pool_endpoint_in_flight"
	EndpointAvgLatency   = "pool_endpoint_avg_latency_ms"
	EndpointHealthy      = "pool_endpoint_healthy"
)

// RecordAttempt records one executor attempt. Attempts that never reached an
// endpoint are counted as exhaustion instead.
func RecordAttempt(ev pool.AttemptEvent) {
	if observability.TelemetrySystem == nil {
		return
	}

	if ev.Index < 0 {
		_ = observability.TelemetrySystem.Counter(PoolExhaustedTotal, 1, nil)
		return
	}

	labels := map[string]string{
		"endpoint": ev.Endpoint,
		"outcome":  ev.Outcome(),
	}
	_ = observability.TelemetrySystem.Counter(PoolAttemptsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(
		PoolAttemptDuration,
		ev.Latency,
		map[string]string{"endpoint": ev.Endpoint},
	)
}

// RecordProbe records a health probe result
func RecordProbe(endpoint string, ok bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		PoolProbesTotal,
		1,
		map[string]string{
			"endpoint": endpoint,
			"ok":       strconv.FormatBool(ok),
		},
	)
	RecordHealthCheck("probe:"+endpoint, ok, duration)
}

// RecordSnapshot publishes pool-wide and per-endpoint gauges.
func RecordSnapshot(snapshot []pool.EndpointSnapshot) {
	if observability.TelemetrySystem == nil {
		return
	}

	healthy := 0
	for _, ep := range snapshot {
		labels := map[string]string{"endpoint": ep.Name}

		up := 0.0
		if ep.Healthy {
			healthy++
			up = 1
		}
		_ = observability.TelemetrySystem.Gauge(EndpointHealthy, up, labels)
		_ = observability.TelemetrySystem.Gauge(EndpointInFlight, float64(ep.CurrentConcurrent), labels)
		if ep.AvgLatencyMs != nil {
			_ = observability.TelemetrySystem.Gauge(EndpointAvgLatency, *ep.AvgLatencyMs, labels)
		}
	}

	_ = observability.TelemetrySystem.Gauge(PoolHealthyEndpoints, float64(healthy), nil)
	_ = observability.TelemetrySystem.Gauge(PoolEndpoints, float64(len(snapshot)), nil)
}
