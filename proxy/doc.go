/*
Package proxy implements the reference forwarding engine of the gateway.

The routes are a static table of path prefixes. Every route names its
backend URL, the fallback service answering while the backend is
unavailable, and the scopes required from the caller.

# Proxy Mechanism

1. route matching:

The Table matches the request path against the route prefixes before the
filters of the pipeline run. The longest prefix wins. A prefix matches
only at a path segment boundary, so /api/order does not match
/api/orders. The id of the matched route is stored in the pipeline
context.

2. circuit breaker:

When the breaker of the route is open, the backend is not called and the
request is answered with the degraded response of the fallback service of
the route.

3. upstream request:

The request is forwarded by an httputil.ReverseProxy, bounded by the
backend timeout. The X-Forwarded-* headers are set and the correlation
id set by the identification filter is passed on.

4. errors:

The forwarder never writes error responses. Transport errors are
returned as faults: a backend that can't be reached is a bad gateway, a
backend that doesn't respond in time is a gateway timeout. Both, and
backend responses with a >=500 status code, count as failures for the
breaker of the route.
*/
package proxy
