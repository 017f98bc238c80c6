// Package ratelimit enforces per-source and global request budgets for
// marketplace collectors using sliding windows plus per-source exponential
// backoff.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/comicpulse/priceintel/internal/config"
)

const (
	burstWindow = 5 * time.Second

	// maxBackoffLevel stops the exponent from growing once the computed
	// delay is pinned at the configured maximum anyway.
	maxBackoffLevel = 16
)

type checkedWindow struct {
	name  string
	size  time.Duration
	limit int
}

type backoffState struct {
	level           int
	consecutiveHits int
	notBefore       time.Time
	lastTouched     time.Time
}

// Limiter admits or rejects collector requests. State lives in an injected
// CounterStore so tests and multi-process deployments can swap the backing.
//
// Admission is check-then-record without a lock spanning the store calls:
// concurrent callers for the same key can land marginally over budget. That
// soft bound is accepted; the hard bound holds for sequential callers.
type Limiter struct {
	store    CounterStore
	global   config.GlobalBudget
	profiles map[string]config.SourceProfile
	fallback config.SourceProfile
	sweep    config.SweepConfig

	mu      sync.Mutex
	backoff map[string]*backoffState
	bursts  map[string]*rate.Limiter

	nowFunc   func() time.Time
	sleepFunc func(time.Duration)
}

// New creates a Limiter backed by store. A nil store gets a fresh
// process-local MemoryStore.
func New(store CounterStore, cfg config.RateLimitConfig) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		store:     store,
		global:    cfg.Global,
		profiles:  cfg.Sources,
		fallback:  cfg.Default,
		sweep:     cfg.Sweep,
		backoff:   make(map[string]*backoffState),
		bursts:    make(map[string]*rate.Limiter),
		nowFunc:   time.Now,
		sleepFunc: time.Sleep,
	}
}

func (l *Limiter) profileFor(source string) config.SourceProfile {
	if p, ok := l.profiles[source]; ok {
		return p
	}
	return l.fallback
}

// Admit checks the global budgets, then the source budgets, then the burst
// allowance, in that order. On rejection it returns a *RateLimitError whose
// WaitMs tells the caller exactly when the oldest in-window request exits
// the window. A pending backoff delay for the source is served before the
// checks run; once started, the delay always completes (callers impose
// their own timeouts around Admit, not inside it).
func (l *Limiter) Admit(ctx context.Context, source, requestType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.serveBackoff(source)
	now := l.nowFunc()
	profile := l.profileFor(source)

	globalChecks := []checkedWindow{
		{name: "global:1s", size: time.Second, limit: l.global.PerSecond},
		{name: "global:1m", size: time.Minute, limit: l.global.PerMinute},
		{name: "global:1h", size: time.Hour, limit: l.global.PerHour},
	}
	sourceChecks := []checkedWindow{
		{name: "source:1s", size: time.Second, limit: profile.PerSecond},
		{name: "source:1m", size: time.Minute, limit: profile.PerMinute},
		{name: "source:1h", size: time.Hour, limit: profile.PerHour},
		{name: "source:1d", size: 24 * time.Hour, limit: profile.PerDay},
	}

	var recordKeys []string
	for _, w := range globalChecks {
		key := "global:" + w.size.String()
		if err := l.checkWindow(ctx, key, w, now, source, requestType); err != nil {
			return err
		}
		recordKeys = append(recordKeys, key)
	}
	for _, w := range sourceChecks {
		key := "src:" + source + ":" + requestType + ":" + w.size.String()
		if err := l.checkWindow(ctx, key, w, now, source, requestType); err != nil {
			return err
		}
		recordKeys = append(recordKeys, key)
	}

	if err := l.checkBurst(source, requestType, profile, now); err != nil {
		return err
	}

	for _, key := range recordKeys {
		if err := l.store.Record(ctx, key, now); err != nil {
			// A failing backing store must not stall collection; the
			// in-memory path never errors.
			zap.L().Warn("ratelimit: record failed, continuing",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	l.recordSuccess(source, now)
	return nil
}

func (l *Limiter) checkWindow(ctx context.Context, key string, w checkedWindow, now time.Time, source, requestType string) error {
	if w.limit <= 0 {
		return nil // unlimited budget
	}
	count, oldest, err := l.store.Slide(ctx, key, now.Add(-w.size))
	if err != nil {
		zap.L().Warn("ratelimit: counter store unavailable, admitting",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}
	if count < w.limit {
		return nil
	}

	waitMs := oldest.Add(w.size).Sub(now).Milliseconds()
	if waitMs < 0 {
		waitMs = 0
	}
	l.recordRejection(source, now)

	rlErr := &RateLimitError{
		Source:       source,
		RequestType:  requestType,
		Window:       w.name,
		Limit:        w.limit,
		CurrentCount: count,
		WaitMs:       waitMs,
	}
	zap.L().Info("ratelimit: rejected",
		zap.String("source", source),
		zap.String("request_type", requestType),
		zap.String("window", w.name),
		zap.Int("limit", w.limit),
		zap.Int("current_count", count),
		zap.Int64("wait_ms", waitMs),
	)
	return rlErr
}

// checkBurst allows short spikes above the steady-state budgets: up to
// BurstAllowance requests in any 5s span, enforced with a token bucket.
func (l *Limiter) checkBurst(source, requestType string, profile config.SourceProfile, now time.Time) error {
	if profile.BurstAllowance <= 0 {
		return nil
	}

	l.mu.Lock()
	lim, ok := l.bursts[source]
	if !ok {
		lim = rate.NewLimiter(rate.Every(burstWindow/time.Duration(profile.BurstAllowance)), profile.BurstAllowance)
		l.bursts[source] = lim
	}
	l.mu.Unlock()

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		res.CancelAt(now)
		return &RateLimitError{
			Source:      source,
			RequestType: requestType,
			Window:      "burst",
			Limit:       profile.BurstAllowance,
			WaitMs:      burstWindow.Milliseconds(),
		}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		l.recordRejection(source, now)
		rlErr := &RateLimitError{
			Source:       source,
			RequestType:  requestType,
			Window:       "burst",
			Limit:        profile.BurstAllowance,
			CurrentCount: profile.BurstAllowance,
			WaitMs:       delay.Milliseconds(),
		}
		zap.L().Info("ratelimit: burst allowance exhausted",
			zap.String("source", source),
			zap.Int64("wait_ms", rlErr.WaitMs),
		)
		return rlErr
	}
	return nil
}

// serveBackoff sleeps out any pending backoff delay for the source. The
// delay, once started, completes even if the caller's context is canceled.
func (l *Limiter) serveBackoff(source string) {
	l.mu.Lock()
	state, ok := l.backoff[source]
	var remaining time.Duration
	if ok {
		remaining = state.notBefore.Sub(l.nowFunc())
	}
	l.mu.Unlock()

	if remaining > 0 {
		zap.L().Debug("ratelimit: serving backoff delay",
			zap.String("source", source),
			zap.Duration("delay", remaining),
		)
		l.sleepFunc(remaining)
	}
}

func (l *Limiter) recordRejection(source string, now time.Time) {
	profile := l.profileFor(source)
	base := time.Duration(profile.BackoffBaseMs) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	mult := profile.BackoffMultiplier
	if mult <= 1 {
		mult = 2
	}
	maxDelay := time.Duration(profile.BackoffMaxMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.backoff[source]
	if !ok {
		state = &backoffState{}
		l.backoff[source] = state
	}
	state.consecutiveHits++
	if state.level < maxBackoffLevel {
		state.level++
	}
	state.lastTouched = now

	delay := time.Duration(float64(base) * math.Pow(mult, float64(state.level-1)))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	state.notBefore = now.Add(delay)

	zap.L().Info("ratelimit: backoff applied",
		zap.String("source", source),
		zap.Int("level", state.level),
		zap.Int("consecutive_hits", state.consecutiveHits),
		zap.Duration("delay", delay),
	)
}

func (l *Limiter) recordSuccess(source string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.backoff[source]
	if !ok {
		return
	}
	state.lastTouched = now
	hadPressure := state.consecutiveHits > 0 || state.level > 0
	state.consecutiveHits = 0
	if state.level > 0 {
		state.level--
	}
	if state.level == 0 {
		state.notBefore = time.Time{}
	}
	if hadPressure && state.level == 0 {
		zap.L().Info("ratelimit: backoff reset", zap.String("source", source))
	}
}

// Run sweeps stale window entries and idle backoff state until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	interval := time.Duration(l.sweep.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.SweepOnce(ctx)
		}
	}
}

// SweepOnce prunes entries older than the retention horizon and caps the
// number of tracked keys.
func (l *Limiter) SweepOnce(ctx context.Context) {
	retention := time.Duration(l.sweep.RetentionSecs) * time.Second
	if retention <= 0 {
		retention = 25 * time.Hour
	}
	now := l.nowFunc()
	horizon := now.Add(-retention)

	evicted, err := l.store.Sweep(ctx, horizon, l.sweep.MaxKeys)
	if err != nil {
		zap.L().Warn("ratelimit: sweep failed", zap.Error(err))
		return
	}

	l.mu.Lock()
	for source, state := range l.backoff {
		if state.lastTouched.Before(horizon) && now.After(state.notBefore) {
			delete(l.backoff, source)
		}
	}
	l.mu.Unlock()

	if evicted > 0 {
		zap.L().Info("ratelimit: sweep evicted keys over cap", zap.Int("evicted", evicted))
	}
}

// SourceSnapshot is a point-in-time view of one source's backoff state.
type SourceSnapshot struct {
	Source          string    `json:"source"`
	BackoffLevel    int       `json:"backoffLevel"`
	ConsecutiveHits int       `json:"consecutiveHits"`
	NotBefore       time.Time `json:"notBefore,omitempty"`
}

// Snapshot reports backoff state per source and the tracked key count, for
// the operator status endpoint.
func (l *Limiter) Snapshot(ctx context.Context) (sources []SourceSnapshot, trackedKeys int) {
	l.mu.Lock()
	for source, state := range l.backoff {
		sources = append(sources, SourceSnapshot{
			Source:          source,
			BackoffLevel:    state.level,
			ConsecutiveHits: state.consecutiveHits,
			NotBefore:       state.notBefore,
		})
	}
	l.mu.Unlock()

	keys, err := l.store.Keys(ctx)
	if err != nil {
		zap.L().Warn("ratelimit: key count unavailable", zap.Error(err))
		keys = -1
	}
	return sources, keys
}
