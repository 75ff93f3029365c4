package ratelimit

import (
	"context"
	"time"
)

// KeyPrefix is prepended to every counting key in the store.
const KeyPrefix = "rate_limit:"

// Store runs the sliding window evaluation of a key as one atomic unit:
// entries scored at or before now-window are removed, the remaining
// entries counted and, when there are fewer than limit, member is added
// with score now. The key expires after window.
//
// The returned count includes the evaluated request, whether it was
// added or not, so a count above limit means the request was denied.
// ttl is the remaining time to live of the key, or a value <= 0 if the
// store did not report one.
type Store interface {
	Hit(ctx context.Context, key, member string, limit int64, window time.Duration, now time.Time) (count int64, ttl time.Duration, err error)
}
