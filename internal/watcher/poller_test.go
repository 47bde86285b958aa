package watcher

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kkstefanov/tiktok-live-watcher/api"
	"github.com/kkstefanov/tiktok-live-watcher/internal/models"
	"github.com/kkstefanov/tiktok-live-watcher/internal/settings"
)

func TestCheckLiveWithRetryStopsOnDecisive(t *testing.T) {
	h := newHarness(t)
	h.status.fn = func(username string) api.CheckResult {
		return liveResult(h.clock.nowMs(), "42")
	}

	r := h.w.checkLiveWithRetry(context.Background(), "alice")
	if !r.OK || r.IsLive == nil || !*r.IsLive {
		t.Errorf("result = %+v, want decisive live", r)
	}
	if got := h.status.callCount(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if len(h.sleepLog()) != 0 {
		t.Errorf("unexpected backoff sleeps: %v", h.sleepLog())
	}
}

func TestCheckLiveWithRetryBacksOffAndExhausts(t *testing.T) {
	h := newHarness(t)
	h.status.fn = func(username string) api.CheckResult {
		return failResult(h.clock.nowMs(), "timeout")
	}

	r := h.w.checkLiveWithRetry(context.Background(), "alice")
	if r.OK || r.Reason != "timeout" {
		t.Errorf("result = %+v, want exhausted timeout", r)
	}
	if got := h.status.callCount(); got != maxCheckAttempts {
		t.Errorf("calls = %d, want %d", got, maxCheckAttempts)
	}

	// Backoff grows with the attempt number (jitter pinned to zero).
	sleeps := h.sleepLog()
	want := []time.Duration{
		1 * h.w.timing.RetryBaseDelay,
		2 * h.w.timing.RetryBaseDelay,
	}
	if !reflect.DeepEqual(sleeps, want) {
		t.Errorf("backoff sleeps = %v, want %v", sleeps, want)
	}
}

func TestCheckLiveWithRetryStopsOnRateLimit(t *testing.T) {
	h := newHarness(t)
	h.status.fn = func(username string) api.CheckResult {
		return failResult(h.clock.nowMs(), "rate_limited")
	}

	r := h.w.checkLiveWithRetry(context.Background(), "alice")
	if r.Reason != "rate_limited" {
		t.Errorf("result = %+v", r)
	}
	if got := h.status.callCount(); got != 1 {
		t.Errorf("calls = %d, want 1 (rate limits are not retried)", got)
	}
	if !h.w.IsRateLimitedNow() {
		t.Error("rate limit was not recorded")
	}
}

func TestRunCheckLiveDetectionScenario(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{
		Usernames:       []string{"alice"},
		IntervalMinutes: 1,
		GiftTrack:       true,
	})
	h.status.fn = func(username string) api.CheckResult {
		return liveResult(h.clock.nowMs(), "123")
	}

	h.w.RunCheck()

	state := h.w.StateSnapshot()["alice"]
	if state.IsLive == nil || !*state.IsLive || state.Confidence != "high" || state.RoomID != "123" {
		t.Errorf("folded state = %+v", state)
	}
	if state.LastLiveStartedAt != state.CheckedAt || state.LastLiveSeenAt != state.CheckedAt {
		t.Errorf("transition stamps = %+v", state)
	}

	if entries := h.store.historyByType("live_started"); len(entries) != 1 || entries[0].Username != "alice" {
		t.Errorf("live_started entries = %+v", entries)
	}
	sent := h.notifier.all()
	if len(sent) != 1 || sent[0].title != "alice is LIVE" {
		t.Errorf("notifications = %+v", sent)
	}

	// Folded state is persisted for restart recovery.
	h.store.mu.Lock()
	persisted, ok := h.store.statuses["alice"]
	h.store.mu.Unlock()
	if !ok || persisted.RoomID != "123" {
		t.Errorf("persisted state = %+v (ok=%v)", persisted, ok)
	}
}

func TestRunCheckLiveEndedTransition(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{Usernames: []string{"alice"}, IntervalMinutes: 1})
	h.status.fn = func(username string) api.CheckResult {
		return liveResult(h.clock.nowMs(), "123")
	}
	h.w.RunCheck()

	h.clock.advance(2 * time.Minute)
	h.status.fn = func(username string) api.CheckResult {
		return endedResult(h.clock.nowMs())
	}
	h.w.RunCheck()

	state := h.w.StateSnapshot()["alice"]
	if state.IsLive == nil || *state.IsLive {
		t.Errorf("state still live: %+v", state)
	}
	if state.LastLiveEndedAt != state.CheckedAt {
		t.Errorf("LastLiveEndedAt = %d, want %d", state.LastLiveEndedAt, state.CheckedAt)
	}
	if entries := h.store.historyByType("live_ended"); len(entries) != 1 {
		t.Errorf("live_ended entries = %d, want 1", len(entries))
	}
	// Exactly one notification, from the live_started transition.
	if sent := h.notifier.all(); len(sent) != 1 {
		t.Errorf("notifications = %+v", sent)
	}
}

func TestAmbiguousFailureIsNotATransition(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{Usernames: []string{"alice"}, IntervalMinutes: 1})
	h.status.fn = func(username string) api.CheckResult {
		return liveResult(h.clock.nowMs(), "123")
	}
	h.w.RunCheck()
	before := h.w.StateSnapshot()["alice"]

	h.clock.advance(2 * time.Minute)
	h.status.fn = func(username string) api.CheckResult {
		return failResult(h.clock.nowMs(), "tiktokDisconnected")
	}
	h.w.RunCheck()

	after := h.w.StateSnapshot()["alice"]
	if after.IsLive != nil {
		t.Errorf("liveness = %v, want unknown", *after.IsLive)
	}
	if after.LastChangeAt != before.LastChangeAt {
		t.Errorf("LastChangeAt moved on an ambiguous failure: %d -> %d", before.LastChangeAt, after.LastChangeAt)
	}
	if after.LastLiveSeenAt != before.LastLiveSeenAt || after.LastLiveStartedAt != before.LastLiveStartedAt {
		t.Errorf("live sighting stamps rewritten: %+v", after)
	}
	if entries := h.store.historyByType("live_ended"); len(entries) != 0 {
		t.Errorf("ambiguous failure produced live_ended: %+v", entries)
	}
	if entries := h.store.historyByReason("tiktokDisconnected"); len(entries) == 0 {
		t.Error("failure was not logged")
	}
}

func TestRunCheckSkipsWhileInCooldown(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{Usernames: []string{"alice"}, IntervalMinutes: 1})
	h.w.RecordRateLimit("status", "limit")

	h.w.RunCheck()

	if got := h.status.callCount(); got != 0 {
		t.Errorf("checks during cooldown = %d, want 0", got)
	}
	if entries := h.store.historyByReason("rate_limit_cooldown"); len(entries) != 1 {
		t.Errorf("cooldown skip entries = %d, want 1", len(entries))
	}
}

func TestRunCheckHonorsPerAccountDueTimes(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{
		Usernames:        []string{"alice", "bob"},
		IntervalMinutes:  1,
		PerHostIntervals: map[string]int{"bob": 5},
	})
	h.status.fn = func(username string) api.CheckResult {
		return liveResult(h.clock.nowMs(), "1")
	}

	h.w.RunCheck()
	if got := h.status.callCount(); got != 2 {
		t.Fatalf("first cycle calls = %d, want 2", got)
	}

	// Two minutes later only alice (1m interval) is due again; bob's 5m
	// override holds him back.
	h.clock.advance(2 * time.Minute)
	h.w.RunCheck()
	h.status.mu.Lock()
	calls := append([]string(nil), h.status.calls...)
	h.status.mu.Unlock()
	if !reflect.DeepEqual(calls, []string{"alice", "bob", "alice"}) {
		t.Errorf("calls = %v", calls)
	}

	bob := h.w.StateSnapshot()["bob"]
	if bob.PolicyIntervalMinutes != 5 {
		t.Errorf("bob policy = %d, want 5", bob.PolicyIntervalMinutes)
	}
	if bob.NextDueAt != bob.CheckedAt+5*60*1000 {
		t.Errorf("bob NextDueAt = %d, want checkedAt+5m", bob.NextDueAt)
	}
}

func TestRunCheckCoalescesReentrantRequests(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{Usernames: []string{"alice"}, IntervalMinutes: 1})
	h.status.fn = func(username string) api.CheckResult {
		// A second request arriving mid-cycle must return immediately
		// and be folded into one follow-up cycle.
		h.w.RunCheck()
		return liveResult(h.clock.nowMs(), "1")
	}

	h.w.RunCheck()

	if got := h.status.callCount(); got != 1 {
		t.Errorf("calls = %d, want 1 (reentrant request coalesced)", got)
	}
	h.w.mu.Lock()
	checking, queued := h.w.isChecking, h.w.rerunQueued
	h.w.mu.Unlock()
	if checking || queued {
		t.Errorf("flags left dirty: isChecking=%v rerunQueued=%v", checking, queued)
	}
}

func TestRunCheckThrottledDuringAllLiveTracking(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{Usernames: []string{"alice"}, IntervalMinutes: 1})
	h.status.fn = func(username string) api.CheckResult {
		return liveResult(h.clock.nowMs(), "1")
	}
	h.w.RunCheck()

	h.w.mu.Lock()
	h.w.trackerActive = true
	h.w.trackingMode = ModeAllLive
	h.w.mu.Unlock()

	h.clock.advance(time.Minute)
	h.w.RunCheck()
	if got := h.status.callCount(); got != 1 {
		t.Errorf("calls during throttle = %d, want 1", got)
	}
	entries := h.store.historyByReason("status_throttled")
	if len(entries) != 1 || !strings.Contains(entries[0].Error, "all live") {
		t.Errorf("throttle entries = %+v", entries)
	}

	// Past the minimum spacing the cycle runs again.
	h.clock.advance(h.w.timing.StatusMinIntervalAllLive)
	h.w.RunCheck()
	if got := h.status.callCount(); got != 2 {
		t.Errorf("calls after throttle window = %d, want 2", got)
	}
}

func TestScheduleChecksUsesTightestInterval(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{
		Usernames:        []string{"alice", "bob"},
		IntervalMinutes:  5,
		PerHostIntervals: map[string]int{"bob": 2},
	})

	h.w.ScheduleChecks()
	defer h.w.Stop()

	h.w.mu.Lock()
	next := h.w.nextScheduledCheckAt
	h.w.mu.Unlock()
	want := h.clock.nowMs() + 2*60*1000
	if next != want {
		t.Errorf("nextScheduledCheckAt = %d, want %d (override is tighter)", next, want)
	}
}

func TestLiveHostsFollowConfiguredOrder(t *testing.T) {
	h := newHarness(t)
	h.setSettings(t, settings.Settings{
		Usernames:       []string{"carol", "alice", "bob"},
		IntervalMinutes: 1,
	})
	h.w.mu.Lock()
	for _, u := range []string{"alice", "carol"} {
		h.w.byUser[u] = &models.AccountStatus{Username: u, IsLive: boolPtr(true)}
	}
	h.w.mu.Unlock()

	got := h.w.liveHosts()
	if !reflect.DeepEqual(got, []string{"carol", "alice"}) {
		t.Errorf("liveHosts = %v, want configured order", got)
	}
}
