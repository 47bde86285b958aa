package watcher

import (
	"strings"
	"testing"
	"time"
)

func TestRecordRateLimitRaisesBothCooldowns(t *testing.T) {
	h := newHarness(t)
	start := h.clock.nowMs()

	h.w.RecordRateLimit("status", "Too many connection requests")

	want := start + h.w.timing.RateLimitCooldown.Milliseconds()
	next, join := h.w.Cooldowns()
	if next != want || join != want {
		t.Errorf("cooldowns = (%d, %d), want both %d", next, join, want)
	}
	if !h.w.IsRateLimitedNow() {
		t.Error("IsRateLimitedNow = false right after a rate limit")
	}

	entries := h.store.historyByReason("rate_limited")
	if len(entries) != 1 {
		t.Fatalf("rate_limited history entries = %d, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].Error, "status: ") {
		t.Errorf("entry not source-prefixed: %q", entries[0].Error)
	}
}

func TestRecordRateLimitNeverLowersCooldowns(t *testing.T) {
	h := newHarness(t)

	h.w.RecordRateLimit("status", "first")
	next1, join1 := h.w.Cooldowns()

	// A detection computed from an earlier "now" must not shrink the
	// window that is already in force.
	h.clock.set(h.clock.nowMs() - 10*time.Minute.Milliseconds())
	h.w.RecordRateLimit("joinTracker", "stale")

	next2, join2 := h.w.Cooldowns()
	if next2 != next1 || join2 != join1 {
		t.Errorf("cooldowns lowered: (%d, %d) -> (%d, %d)", next1, join1, next2, join2)
	}

	// A later detection extends both.
	h.clock.set(next1 - 1000)
	h.w.RecordRateLimit("status", "again")
	next3, join3 := h.w.Cooldowns()
	if next3 <= next1 || join3 <= join1 {
		t.Errorf("later detection did not extend: (%d, %d)", next3, join3)
	}
}

func TestRecordRateLimitTruncatesMessage(t *testing.T) {
	h := newHarness(t)
	long := strings.Repeat("x", rateLimitErrorMaxLen+100)

	h.w.RecordRateLimit("status", long)

	entries := h.store.historyByReason("rate_limited")
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	want := "status: " + long[:rateLimitErrorMaxLen]
	if entries[0].Error != want {
		t.Errorf("truncated detail length = %d, want %d", len(entries[0].Error), len(want))
	}
}

func TestIsRateLimitedNowExpires(t *testing.T) {
	h := newHarness(t)
	if h.w.IsRateLimitedNow() {
		t.Fatal("rate limited before any detection")
	}
	h.w.RecordRateLimit("status", "limit")
	h.clock.advance(h.w.timing.RateLimitCooldown + time.Second)
	if h.w.IsRateLimitedNow() {
		t.Error("still rate limited after the cooldown elapsed")
	}
}
