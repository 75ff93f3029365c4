/*
Package gateway provides an HTTP API gateway applying an ordered chain of
cross-cutting filters to every inbound request before it is forwarded to
a backend service.

Every request passes the same stages:

	identification -> authentication -> rate limiting -> forwarding engine

The identification filter reuses or generates the X-Request-Id and emits
one request log record when the response was sent. The authentication
filter verifies bearer tokens and places the principal on the request
context. The rate limiting filter evaluates a sliding window log of the
route and the client identity, the principal subject or the client
address, on a shared store. The forwarding engine proxies the request to
the backend of the matched route, behind a circuit breaker per route.

No stage writes error responses. Errors stop the chain and are translated
into exactly one JSON error envelope:

	{
	  "status": 429,
	  "error": "Too Many Requests",
	  "errorCode": "RATE_LIMIT_EXCEEDED",
	  "message": "Rate limit exceeded. Try again in 42 seconds.",
	  "path": "/api/orders",
	  "requestId": "5b0a4c1e-...",
	  "timestamp": "2024-05-01T12:00:00Z",
	  "details": {"limit": 100, "remaining": 0, "retryAfterSeconds": 42}
	}

# Shared store

The counting store is selected by the configuration: redis (a single
node, a ring of shards or a cluster), valkey shards or, when neither is
configured, an in-process store suitable for a single instance. Store
failures never reject requests: the evaluation fails open.

# Running

The command in cmd/gateway reads flags and an optional YAML config file,
see the config package. Run serves the gateway and the support listener
with the /metrics and /health endpoints until SIGINT or SIGTERM. SIGHUP
reloads the rate limit policies from the config file.
*/
package gateway
