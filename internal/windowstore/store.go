// Package windowstore holds the time-ordered event logs behind the sliding
// window limiter. Each bucket is keyed by (identifier, endpoint) and holds one
// entry per admitted request; buckets expire once idle past window + grace.
//
// Every backend failure, timeout or cancellation is reported as an error
// wrapping ErrUnavailable so callers can branch with errors.Is.
package windowstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable is wrapped by every error caused by an unreachable, failing
// or slow backend.
var ErrUnavailable = errors.New("window store unavailable")

// keySeparator splits identifier from endpoint in the flattened key. The
// identifier is path-escaped first, so the first separator is always the
// boundary whatever a JWT subject or forwarded address contains.
const keySeparator = "|"

// Key identifies one bucket.
type Key struct {
	Identifier string
	Endpoint   string
}

func (k Key) String() string {
	return url.PathEscape(k.Identifier) + keySeparator + k.Endpoint
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, bool) {
	escaped, endpoint, ok := strings.Cut(s, keySeparator)
	if !ok {
		return Key{}, false
	}
	id, err := url.PathUnescape(escaped)
	if err != nil {
		return Key{}, false
	}
	return Key{Identifier: id, Endpoint: endpoint}, true
}

// IdentifierPrefix returns the ClearMatching/Scan prefix selecting every
// bucket owned by identifier. The empty identifier selects all buckets.
func IdentifierPrefix(identifier string) string {
	if identifier == "" {
		return ""
	}
	return url.PathEscape(identifier) + keySeparator
}

// Member builds the unique sorted-set member for an event so that two events
// with the same timestamp never collapse into one.
func Member(at time.Time, nonce string) string {
	return "req:" + strconv.FormatInt(at.UnixNano(), 10) + ":" + nonce
}

// Snapshot is the state of a bucket after purging expired events.
type Snapshot struct {
	Count  int64
	Oldest time.Time // zero when Count is 0
}

// Bucket describes one live bucket for administrative listing.
type Bucket struct {
	Key   Key
	Count int64
	TTL   time.Duration // negative when the bucket has no expiry
}

// Store is the contract shared by the Redis and in-process backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record appends an event at the given instant. Recording the same
	// (at, nonce) twice stores one event.
	Record(ctx context.Context, key Key, at time.Time, nonce string) error
	// PurgeBefore removes events strictly older than cutoff.
	PurgeBefore(ctx context.Context, key Key, cutoff time.Time) (int64, error)
	Count(ctx context.Context, key Key) (int64, error)
	// Oldest reports the earliest remaining event, if any.
	Oldest(ctx context.Context, key Key) (time.Time, bool, error)
	SetTTL(ctx context.Context, key Key, ttl time.Duration) error
	Clear(ctx context.Context, key Key) error
	// ClearMatching deletes every bucket whose flattened key starts with
	// prefix and returns how many were removed.
	ClearMatching(ctx context.Context, prefix string) (int64, error)

	// Snapshot purges, counts and reads the oldest event in one round trip.
	Snapshot(ctx context.Context, key Key, cutoff time.Time) (Snapshot, error)
	// Append records an event and refreshes the bucket expiry in one round trip.
	Append(ctx context.Context, key Key, at time.Time, nonce string, ttl time.Duration) error
	// Scan lists live buckets whose flattened key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]Bucket, error)

	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("windowstore %s: %w: %w", op, ErrUnavailable, err)
}

func toScore(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromScore(score float64) time.Time {
	return time.Unix(0, int64(score*float64(time.Second)))
}
