/*
Package metrics implements collection of the gateway's performance
metrics.

The collected metrics include the duration of the rate limit store round
trips, the number of allowed, forbidden and fail-open evaluations, the
redis connection pool statistics and the number of responses per status
code written by the gateway.

# Options

The metrics backend is Prometheus. When the support listener is
configured, the gateway exposes the current values on /metrics. Until a
backend is installed, Default discards all values.
*/
package metrics
