package watcher

import (
	"github.com/kkstefanov/tiktok-live-watcher/internal/models"
)

const rateLimitErrorMaxLen = 260

// RecordRateLimit raises both cooldowns to now + the cooldown window. The
// two channels share the same upstream quota, so a detection on either
// cools down both. Cooldowns are only ever raised, never lowered.
func (w *Watcher) RecordRateLimit(source, message string) {
	until := w.now() + w.timing.RateLimitCooldown.Milliseconds()

	w.mu.Lock()
	if until > w.nextAllowedCheckAt {
		w.nextAllowedCheckAt = until
	}
	if until > w.joinCooldownUntil {
		w.joinCooldownUntil = until
	}
	w.mu.Unlock()

	if len(message) > rateLimitErrorMaxLen {
		message = message[:rateLimitErrorMaxLen]
	}
	detail := source + ": " + message
	w.appendHistory(models.HistoryEntry{
		Type:   "error",
		Reason: "rate_limited",
		Error:  detail,
	})
	w.publishAppStatus()
	w.publishJoinTracker()
}

// IsRateLimitedNow reports whether either cooldown is still in the
// future.
func (w *Watcher) IsRateLimitedNow() bool {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	return now < w.nextAllowedCheckAt || now < w.joinCooldownUntil
}

// Cooldowns returns both cooldown timestamps (status, tracking).
func (w *Watcher) Cooldowns() (nextAllowedCheckAt, joinCooldownUntil int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextAllowedCheckAt, w.joinCooldownUntil
}
