package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/comicpulse/priceintel/internal/config"
)

func testProfile() config.SourceProfile {
	return config.SourceProfile{
		PerSecond:         5,
		PerMinute:         100,
		PerHour:           1000,
		PerDay:            5000,
		BurstAllowance:    0, // burst disabled unless a test opts in
		BackoffBaseMs:     1000,
		BackoffMultiplier: 2.0,
		BackoffMaxMs:      60000,
	}
}

func testLimiter(profile config.SourceProfile) (*Limiter, *time.Time) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	l := New(nil, config.RateLimitConfig{
		Global:  config.GlobalBudget{PerSecond: 100, PerMinute: 1000, PerHour: 10000},
		Sources: map[string]config.SourceProfile{"ebay": profile},
		Default: profile,
		Sweep:   config.SweepConfig{RetentionSecs: 90000, MaxKeys: 100},
	})
	l.nowFunc = func() time.Time { return now }
	l.sleepFunc = func(d time.Duration) { now = now.Add(d) }
	return l, &now
}

func TestAdmit_SlidingWindowBound(t *testing.T) {
	l, now := testLimiter(testProfile())
	ctx := context.Background()

	// 5 per second: the 6th request within the same second is rejected.
	for i := 0; i < 5; i++ {
		if err := l.Admit(ctx, "ebay", "listings"); err != nil {
			t.Fatalf("request %d: unexpected rejection: %v", i+1, err)
		}
		*now = now.Add(100 * time.Millisecond)
	}

	err := l.Admit(ctx, "ebay", "listings")
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.CurrentCount != 5 {
		t.Errorf("expected currentCount == limit (5), got %d", rlErr.CurrentCount)
	}
	if rlErr.WaitMs <= 0 {
		t.Errorf("expected positive waitMs, got %d", rlErr.WaitMs)
	}
	if rlErr.Window != "source:1s" {
		t.Errorf("expected source:1s window, got %s", rlErr.Window)
	}
}

func TestAdmit_WaitMsMatchesOldestExit(t *testing.T) {
	profile := testProfile()
	profile.PerSecond = 2
	l, now := testLimiter(profile)
	ctx := context.Background()

	start := *now
	if err := l.Admit(ctx, "ebay", "listings"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	*now = now.Add(300 * time.Millisecond)
	if err := l.Admit(ctx, "ebay", "listings"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	*now = now.Add(200 * time.Millisecond)

	err := l.Admit(ctx, "ebay", "listings")
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}

	// now + waitMs must equal the instant the oldest request leaves the 1s window.
	exitAt := start.Add(time.Second)
	gotExit := now.Add(time.Duration(rlErr.WaitMs) * time.Millisecond)
	if !gotExit.Equal(exitAt) {
		t.Errorf("waitMs off: now+wait = %v, oldest+window = %v", gotExit, exitAt)
	}
}

func TestAdmit_WindowSlidesOpen(t *testing.T) {
	profile := testProfile()
	profile.PerSecond = 2
	l, now := testLimiter(profile)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Admit(ctx, "ebay", "listings"); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
	}
	// After the window passes, admissions resume.
	*now = now.Add(1100 * time.Millisecond)
	if err := l.Admit(ctx, "ebay", "listings"); err != nil {
		t.Fatalf("expected admission after window slid open: %v", err)
	}
}

func TestBackoff_MonotonicUpAndStepDown(t *testing.T) {
	l, now := testLimiter(testProfile())
	// One request per hour globally: every attempt after the first rejects
	// no matter how much backoff time the injected sleep advances.
	l.global = config.GlobalBudget{PerHour: 1}
	ctx := context.Background()

	if err := l.Admit(ctx, "ebay", "listings"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}

	// Consecutive rejections: level rises by one each time.
	prevLevel := 0
	for i := 0; i < 4; i++ {
		if err := l.Admit(ctx, "ebay", "listings"); err == nil {
			t.Fatalf("rejection %d: expected RateLimitError", i+1)
		}
		l.mu.Lock()
		level := l.backoff["ebay"].level
		hits := l.backoff["ebay"].consecutiveHits
		l.mu.Unlock()
		if level < prevLevel {
			t.Errorf("backoff level decreased across rejections: %d -> %d", prevLevel, level)
		}
		if hits != i+1 {
			t.Errorf("expected %d consecutive hits, got %d", i+1, hits)
		}
		prevLevel = level
	}

	// A clean admission decays the level by exactly one and clears hits.
	*now = now.Add(25 * time.Hour)
	if err := l.Admit(ctx, "ebay", "listings"); err != nil {
		t.Fatalf("expected clean admission, got %v", err)
	}
	l.mu.Lock()
	state := l.backoff["ebay"]
	l.mu.Unlock()
	if state.level != prevLevel-1 {
		t.Errorf("expected level %d after success, got %d", prevLevel-1, state.level)
	}
	if state.consecutiveHits != 0 {
		t.Errorf("expected consecutive hits reset, got %d", state.consecutiveHits)
	}
}

func TestBackoff_DelayServedBeforeNextAttempt(t *testing.T) {
	profile := testProfile()
	profile.PerSecond = 1
	profile.BackoffBaseMs = 2000
	l, now := testLimiter(profile)
	ctx := context.Background()

	var slept time.Duration
	realSleep := l.sleepFunc
	l.sleepFunc = func(d time.Duration) {
		slept += d
		realSleep(d)
	}

	if err := l.Admit(ctx, "ebay", "listings"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if err := l.Admit(ctx, "ebay", "listings"); err == nil {
		t.Fatal("expected rejection")
	}
	_ = now

	// The next attempt serves the 2s base delay before checking windows.
	_ = l.Admit(ctx, "ebay", "listings")
	if slept < 2*time.Second {
		t.Errorf("expected >= 2s backoff delay served, slept %v", slept)
	}
}

func TestAdmit_GlobalBudgetCheckedFirst(t *testing.T) {
	profile := testProfile()
	l, _ := testLimiter(profile)
	l.global = config.GlobalBudget{PerSecond: 1, PerMinute: 100, PerHour: 1000}
	ctx := context.Background()

	if err := l.Admit(ctx, "ebay", "listings"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	// A different source still trips the shared global window.
	err := l.Admit(ctx, "heritage", "listings")
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.Window != "global:1s" {
		t.Errorf("expected global window rejection, got %s", rlErr.Window)
	}
}

func TestAdmit_BurstAllowance(t *testing.T) {
	profile := testProfile()
	profile.PerSecond = 0 // unlimited steady budget, burst is the only gate
	profile.PerMinute = 0
	profile.PerHour = 0
	profile.PerDay = 0
	profile.BurstAllowance = 3
	l, _ := testLimiter(profile)
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 4; i++ {
		if err := l.Admit(ctx, "ebay", "listings"); err == nil {
			admitted++
		}
	}
	if admitted != 3 {
		t.Errorf("expected 3 admissions within burst allowance, got %d", admitted)
	}
}

func TestSweep_EvictsOverCap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		if err := store.Record(ctx, key, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	evicted, err := store.Sweep(ctx, base.Add(-time.Hour), 4)
	if err != nil {
		t.Fatal(err)
	}
	if evicted != 6 {
		t.Errorf("expected 6 evictions, got %d", evicted)
	}
	keys, _ := store.Keys(ctx)
	if keys != 4 {
		t.Errorf("expected 4 keys after sweep, got %d", keys)
	}
}

func TestSweep_DropsStaleEntries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	_ = store.Record(ctx, "k", base)
	_ = store.Record(ctx, "k", base.Add(2*time.Hour))

	if _, err := store.Sweep(ctx, base.Add(time.Hour), 0); err != nil {
		t.Fatal(err)
	}
	count, oldest, err := store.Slide(ctx, "k", base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 surviving entry, got %d", count)
	}
	if !oldest.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("unexpected oldest: %v", oldest)
	}
}
