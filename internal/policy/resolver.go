// Package policy resolves the effective request budget for an
// (endpoint, tier) pair from the dynamic rule store, falling back to a
// built-in table and finally to a hardcoded last-resort limit.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/internal/models"

	"golang.org/x/sync/singleflight"
)

var errLoadTimeout = errors.New("rule load timed out")

// ErrPolicyNotFound means neither the dynamic rules nor the static table
// could produce a limit.
var ErrPolicyNotFound = errors.New("policy not found")

// Last-resort budget used when the static table itself has no answer.
const (
	LastResortRequests = 60
	LastResortWindow   = 60 * time.Second
)

// failureRetry bounds how long a failed rule load is remembered.
const failureRetry = 5 * time.Second

// DefaultLoadTimeout bounds one ListRules call against the rule store.
const DefaultLoadTimeout = 50 * time.Millisecond

// Source tells where a Resolution came from.
type Source string

const (
	SourceDynamic        Source = "dynamic"
	SourceDynamicDefault Source = "dynamic-default"
	SourceStatic         Source = "static"
	SourceLastResort     Source = "last-resort"
)

// Resolution is the effective budget for one request.
type Resolution struct {
	Endpoint string // rule endpoint that matched
	Tier     string // tier after normalisation
	Requests int
	Window   time.Duration
	Source   Source
}

// RuleSource supplies the dynamic rules. storage.Storage satisfies it.
type RuleSource interface {
	ListRules(ctx context.Context) ([]*models.PolicyRule, error)
}

type ruleKey struct {
	endpoint string
	tier     string
}

// snapshot is an immutable view of the dynamic rules at load time.
type snapshot struct {
	rules    map[ruleKey]*models.PolicyRule
	tiers    map[string]bool
	err      error
	loadedAt time.Time
}

// Resolver is safe for concurrent use. It keeps a per-process snapshot of the
// dynamic rules for up to the cache TTL.
//
// Reloads happen outside the lock: concurrent callers share one in-flight
// load through a singleflight group, and each waits no longer than its own
// context or the load timeout allows.
type Resolver struct {
	source      RuleSource
	static      Table
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time

	loads singleflight.Group

	mu   sync.Mutex
	snap *snapshot
	gen  uint64 // bumped by Invalidate; loads started earlier are not cached
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCacheTTL sets how long loaded rules are reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithLoadTimeout bounds each reload from the rule source. Non-positive
// values keep the default.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// WithStaticTable replaces the built-in fallback table.
func WithStaticTable(t Table) Option {
	return func(r *Resolver) {
		r.static = t
	}
}

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver. A nil source resolves from the static table only.
func NewResolver(source RuleSource, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		static: StaticTable(),
		ttl:         30 * time.Second,
		loadTimeout: DefaultLoadTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invalidate drops the cached rules so the next Resolve reloads them.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.snap = nil
	r.gen++
	r.mu.Unlock()
	r.loads.Forget(loadKey)
}

// Static returns the fallback table in use.
func (r *Resolver) Static() Table {
	return r.static
}

// Resolve never fails: every outcome carries a usable budget and the Source
// it came from.
func (r *Resolver) Resolve(ctx context.Context, endpoint, tier string) Resolution {
	snap := r.current(ctx)

	if snap.err == nil && len(snap.rules) > 0 {
		t := tier
		if !snap.tiers[t] && !models.IsKnownTier(t) {
			t = models.TierAnonymous
		}
		if rule, ok := snap.rules[ruleKey{endpoint, t}]; ok {
			return fromRule(rule, SourceDynamic)
		}
		if rule, ok := snap.rules[ruleKey{models.DefaultEndpoint, t}]; ok {
			return fromRule(rule, SourceDynamicDefault)
		}
	}

	res, err := r.resolveStatic(endpoint, tier)
	if err != nil {
		slog.Error("No rate limit policy found, using last-resort limit",
			"endpoint", endpoint,
			"tier", tier,
			"requests", LastResortRequests,
			"window", LastResortWindow,
			"error", err)
		return Resolution{
			Endpoint: endpoint,
			Tier:     models.NormalizeTier(tier),
			Requests: LastResortRequests,
			Window:   LastResortWindow,
			Source:   SourceLastResort,
		}
	}
	return res
}

func (r *Resolver) resolveStatic(endpoint, tier string) (Resolution, error) {
	t := models.NormalizeTier(tier)
	l, ok := r.static.lookup(endpoint, t)
	if !ok || l.Requests <= 0 || l.Window <= 0 {
		return Resolution{}, fmt.Errorf("%w: endpoint=%s tier=%s", ErrPolicyNotFound, endpoint, t)
	}
	matched := endpoint
	if _, exact := r.static[endpoint]; !exact {
		matched = models.DefaultEndpoint
	}
	return Resolution{
		Endpoint: matched,
		Tier:     t,
		Requests: l.Requests,
		Window:   time.Duration(l.Window) * time.Second,
		Source:   SourceStatic,
	}, nil
}

func fromRule(rule *models.PolicyRule, source Source) Resolution {
	return Resolution{
		Endpoint: rule.Endpoint,
		Tier:     rule.Tier,
		Requests: rule.Requests,
		Window:   rule.WindowDuration(),
		Source:   source,
	}
}

const loadKey = "rules"

// current returns a fresh enough snapshot, joining or starting a reload when
// the cached one has expired. A caller whose context ends first gets an error
// snapshot and resolves statically; the shared load carries on for the rest.
func (r *Resolver) current(ctx context.Context) *snapshot {
	if r.source == nil {
		return &snapshot{}
	}

	now := r.now()
	r.mu.Lock()
	snap, gen := r.snap, r.gen
	r.mu.Unlock()
	if snap != nil && now.Sub(snap.loadedAt) < r.maxAge(snap) {
		return snap
	}

	ch := r.loads.DoChan(loadKey, func() (interface{}, error) {
		loaded := r.load(ctx, now)
		r.mu.Lock()
		if r.gen == gen {
			r.snap = loaded
		}
		r.mu.Unlock()
		return loaded, nil
	})

	// A little past the load's own deadline, so a source that honours it
	// reports first.
	timer := time.NewTimer(r.loadTimeout + r.loadTimeout/2)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.Val.(*snapshot)
	case <-ctx.Done():
		return &snapshot{err: ctx.Err(), loadedAt: now}
	case <-timer.C:
		// The source ignores its deadline. Resolve statically and retry after
		// failureRetry instead of stalling every request behind it.
		fb := &snapshot{err: errLoadTimeout, loadedAt: now}
		r.mu.Lock()
		if r.gen == gen && r.snap == snap {
			r.snap = fb
		}
		r.mu.Unlock()
		return fb
	}
}

func (r *Resolver) maxAge(s *snapshot) time.Duration {
	if s.err != nil && failureRetry < r.ttl {
		return failureRetry
	}
	return r.ttl
}

// load runs detached from the caller's cancellation, since other callers may
// be waiting on it, but never longer than the load timeout.
func (r *Resolver) load(ctx context.Context, now time.Time) *snapshot {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
	defer cancel()

	rules, err := r.source.ListRules(ctx)
	if err != nil {
		slog.Warn("Failed to load rate limit rules, using static limits", "error", err)
		return &snapshot{err: err, loadedAt: now}
	}

	s := &snapshot{
		rules:    make(map[ruleKey]*models.PolicyRule, len(rules)),
		tiers:    make(map[string]bool),
		loadedAt: now,
	}
	for _, rule := range rules {
		s.rules[ruleKey{rule.Endpoint, rule.Tier}] = rule
		s.tiers[rule.Tier] = true
	}
	return s
}
