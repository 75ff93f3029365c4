/*
Package circuit implements the circuit breakers of the forwarding engine.

The breakers are assigned to routes, so that the failures of one backend
never affect the breaker of another route. A breaker opens when the
backend of its route couldn't be reached or responded with a >=500 status
code at least N times in a row. While open, the forwarding engine does
not call the backend and answers with the degraded response of the
fallback service of the route. After the configured timeout the breaker
goes into half-open state, where it lets M requests through. If any of
them fails, the breaker goes back to open state. If all succeed, it is
closed again.

The registry object ensures synchronized access to the active breakers
and releases the idle ones.

Usage

Breakers are configured globally with the command line flags:

	gateway -breaker-failures 5 -breaker-timeout 30s

and individually for routes with the -breaker flag:

	gateway -breaker route=orders-service,failures=3,timeout=1m
	gateway -breaker route=health,type=disabled
*/
package circuit
