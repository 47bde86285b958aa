package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kkstefanov/tiktok-live-watcher/api"
	"github.com/kkstefanov/tiktok-live-watcher/internal/models"
	"github.com/kkstefanov/tiktok-live-watcher/internal/settings"
)

const maxCheckAttempts = 3

// checkLiveWithRetry runs up to three attempts against the status
// channel. It stops early on a decisive answer or once a rate limit is
// detected (either via the result or because another subsystem raised the
// cooldown mid-retry). Between attempts it backs off with jitter.
func (w *Watcher) checkLiveWithRetry(ctx context.Context, username string) api.CheckResult {
	var last api.CheckResult
	for attempt := 1; attempt <= maxCheckAttempts; attempt++ {
		r := w.status.CheckLive(ctx, username)
		if w.health != nil {
			w.health.RecordCall(r.OK)
		}
		last = r

		if r.OK && r.IsLive != nil {
			return r
		}
		if r.Reason == "rate_limited" {
			w.RecordRateLimit("status", r.Error)
			return r
		}
		if w.IsRateLimitedNow() {
			return r
		}
		if attempt < maxCheckAttempts {
			jitter := time.Duration(w.randIntn(int(w.timing.RetryJitter) + 1))
			w.sleepFn(time.Duration(attempt)*w.timing.RetryBaseDelay + jitter)
		}
	}
	return last
}

// RunCheck executes one poll cycle over all configured accounts. A cycle
// requested while one is running is coalesced: the running cycle re-runs
// itself once after it finishes.
func (w *Watcher) RunCheck() {
	w.mu.Lock()
	if w.isChecking {
		w.rerunQueued = true
		w.mu.Unlock()
		return
	}
	w.isChecking = true
	w.mu.Unlock()

	w.runCheckCycle()

	w.mu.Lock()
	w.isChecking = false
	rerun := w.rerunQueued
	w.rerunQueued = false
	w.mu.Unlock()

	if rerun {
		w.RunCheck()
	}
}

func (w *Watcher) runCheckCycle() {
	now := w.now()

	w.mu.Lock()
	nextAllowed := w.nextAllowedCheckAt
	allLive := w.trackerActive && w.trackingMode == ModeAllLive
	lastCheck := w.lastStatusCheckAt
	w.mu.Unlock()

	if now < nextAllowed {
		w.appendHistory(models.HistoryEntry{
			Type:   "error",
			Reason: "rate_limit_cooldown",
			Error:  fmt.Sprintf("Skipping checks until %s", time.UnixMilli(nextAllowed).Format(time.Kitchen)),
		})
		w.publishAppStatus()
		return
	}

	// While the tracker rotates across all live hosts, space status
	// cycles out to reduce load on the shared upstream quota.
	if allLive {
		minInterval := w.timing.StatusMinIntervalAllLive.Milliseconds()
		if now-lastCheck < minInterval {
			w.appendHistory(models.HistoryEntry{
				Type:   "error",
				Reason: "status_throttled",
				Error: fmt.Sprintf("Join tracker (all live) active — skipping status check until %s",
					time.UnixMilli(lastCheck+minInterval).Format(time.Kitchen)),
			})
			w.publishAppStatus()
			return
		}
	}

	s := w.settings.Get()
	executed := 0

	for _, username := range s.Usernames {
		policyMin := settings.PolicyIntervalMinutesFor(username, s)
		policyMs := int64(policyMin) * 60 * 1000

		w.mu.Lock()
		prev := w.byUser[username]
		var lastChecked int64
		if prev != nil {
			lastChecked = prev.CheckedAt
		}
		dueAt := int64(0)
		if lastChecked > 0 {
			dueAt = lastChecked + policyMs
		}

		// Not due: refresh policy metadata without polling.
		if lastChecked > 0 && w.now() < dueAt {
			prev.PolicyIntervalMinutes = policyMin
			prev.NextDueAt = dueAt
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		// Spread the batch out a little to avoid hammering the upstream.
		if executed > 0 {
			w.sleepFn(w.timing.InterAccountDelay + time.Duration(w.randIntn(int(w.timing.InterAccountJitter)+1)))
		}

		r := w.checkLiveWithRetry(context.Background(), username)
		executed++
		w.foldCheckResult(username, policyMin, policyMs, r)
	}

	w.persistState()
	w.publishState()
	if executed > 0 {
		w.mu.Lock()
		w.lastStatusCheckAt = w.now()
		w.mu.Unlock()
	}
	w.publishAppStatus()
	w.maybeAutoStartAllLive(s)
}

// foldCheckResult merges one check outcome into the account's durable
// state, stamping transition timestamps and emitting history entries and
// notifications for live-state changes. Ambiguous failures degrade
// liveness to unknown without touching the transition timestamps.
func (w *Watcher) foldCheckResult(username string, policyMin int, policyMs int64, r api.CheckResult) {
	w.mu.Lock()
	prev := w.byUser[username]
	if prev == nil {
		prev = &models.AccountStatus{Username: username}
		w.byUser[username] = prev
	}

	decisive := r.IsLive != nil
	wasLive := prev.IsLive != nil && *prev.IsLive
	isLive := decisive && *r.IsLive
	endedNow := decisive && !*r.IsLive

	prev.OK = r.OK
	prev.IsLive = r.IsLive
	prev.Confidence = r.Confidence
	prev.CheckedAt = r.CheckedAt
	prev.DurationMs = r.DurationMs
	prev.RoomID = r.RoomID
	if r.ViewerCount != nil {
		prev.ViewerCount = *r.ViewerCount
	}
	prev.Reason = r.Reason
	prev.Error = r.Error
	// Ambiguous outcomes are "unknown", not a transition.
	if decisive && isLive != wasLive {
		prev.LastChangeAt = r.CheckedAt
	}
	if isLive {
		prev.LastLiveSeenAt = r.CheckedAt
	}
	if !wasLive && isLive {
		prev.LastLiveStartedAt = r.CheckedAt
	}
	if wasLive && endedNow {
		prev.LastLiveEndedAt = r.CheckedAt
	}
	prev.PolicyIntervalMinutes = policyMin
	prev.NextDueAt = r.CheckedAt + policyMs
	w.mu.Unlock()

	if !r.OK {
		w.appendHistory(models.HistoryEntry{
			Type:     "error",
			Username: username,
			Reason:   r.Reason,
			Error:    r.Error,
		})
	}
	if !wasLive && isLive {
		w.appendHistory(models.HistoryEntry{
			Type:     "live_started",
			Username: username,
			RoomID:   r.RoomID,
		})
		w.notifyLiveStarted(username)
	}
	if wasLive && endedNow {
		w.appendHistory(models.HistoryEntry{
			Type:     "live_ended",
			Username: username,
		})
	}
}

func (w *Watcher) persistState() {
	for _, s := range w.StateSnapshot() {
		status := s
		if err := w.store.UpsertAccountStatus(&status); err != nil {
			log.Printf("Error persisting status for %s: %v", status.Username, err)
		}
	}
}

// ScheduleChecks (re)arms the poll timer. The period is the minimum of
// the global interval and every per-host override, so the timer fires at
// least as often as the tightest policy requires; individual accounts are
// still gated by their own due time inside the cycle.
func (w *Watcher) ScheduleChecks() {
	s := w.settings.Get()
	minMinutes := s.IntervalMinutes
	if overrides := settings.SortedOverrideValues(s.PerHostIntervals); len(overrides) > 0 && overrides[0] < minMinutes {
		minMinutes = overrides[0]
	}
	period := time.Duration(minMinutes) * time.Minute

	w.mu.Lock()
	if w.scheduleTimer != nil {
		w.scheduleTimer.Stop()
	}
	w.nextScheduledCheckAt = w.now() + period.Milliseconds()
	w.scheduleTimer = time.AfterFunc(period, func() {
		w.RunCheck()
		w.ScheduleChecks()
	})
	w.mu.Unlock()

	w.publishAppStatus()
}

// liveHosts lists accounts whose last polled status is live, in the
// configured account order so rotation is deterministic.
func (w *Watcher) liveHosts() []string {
	order := w.settings.Get().Usernames

	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, username := range order {
		s := w.byUser[username]
		if s != nil && s.IsLive != nil && *s.IsLive {
			out = append(out, username)
		}
	}
	return settings.UniqUsernames(out)
}

// maybeAutoStartAllLive launches all-live tracking after a poll cycle
// when configured, something is live, and no session is already running.
func (w *Watcher) maybeAutoStartAllLive(s settings.Settings) {
	if !s.AutoTrackAllLive {
		return
	}

	w.mu.Lock()
	cooldown := w.joinCooldownUntil
	active := w.trackerActive
	w.mu.Unlock()

	if w.now() < cooldown {
		return
	}
	// An active session is respected either way: single mode means the
	// operator chose one host on purpose.
	if active {
		return
	}
	if len(w.liveHosts()) == 0 {
		return
	}
	if err := w.StartTrackingAllLive(); err != nil {
		log.Printf("Auto-start all-live tracking failed: %v", err)
	}
}
