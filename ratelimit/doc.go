/*
Package ratelimit implements the distributed rate limiter of the gateway.

Requests are counted with a sliding window log on a store shared by all
gateway instances. Every admitted request adds one timestamped entry to
the log of its key. A request is evaluated by dropping the entries older
than the window, counting the rest and admitting the request when the
count is below the limit of the policy. The whole sequence runs as one
atomic unit on the store, so concurrent instances converge on the same
count for a key.

# Keys

The counting key is the route id joined with the identity of the caller:

	orders-service:alice
	orders-service:10.0.0.1
	users-service:anonymous

The identity is the subject of the authenticated principal, otherwise the
client address resolved from X-Forwarded-For with the configured trust
depth, otherwise "anonymous". Keys are stored with the rate_limit: prefix.

# Policies

A policy is a maximum number of requests per window. The default policy
applies to every route without an override. Overrides match the route id
exactly. Policies can be replaced at runtime without blocking requests
that are being evaluated.

	% gateway -enable-ratelimits \
	    -ratelimit-default max-requests=100,window=60s \
	    -ratelimit-route route=orders-service,max-requests=10,window=60s

# Stores

RedisStore runs the evaluation as a lua script on redis, a ring of redis
shards or a redis cluster. MemoryStore keeps the logs in process and is
meant for single instance setups and tests.

# Failures

When the store fails, the request is admitted with the full quota
remaining and the error is logged. Availability of the gateway is
preferred over strict enforcement.
*/
package ratelimit
