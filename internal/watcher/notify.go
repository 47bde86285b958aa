package watcher

import (
	"fmt"

	"github.com/kkstefanov/tiktok-live-watcher/internal/settings"
)

func (w *Watcher) notify(title, body, targetURL string) {
	if w.notifier != nil {
		w.notifier.Notify(title, body, targetURL)
	}
}

func (w *Watcher) notifyLiveStarted(username string) {
	w.notify(
		fmt.Sprintf("%s is LIVE", username),
		"Click to open the chat overlay.",
		OverlayURL(username),
	)
}

// dedupKey identifies a host+viewer notification pair.
func dedupKey(host, viewer string) string {
	return host + "|" + viewer
}

// maybeNotifyViewerJoined sends a join notification unless one for the
// same host+viewer pair fired within the configured cooldown.
func (w *Watcher) maybeNotifyViewerJoined(host, viewer string) {
	s := w.settings.Get()
	if !s.JoinNotify || host == "" || viewer == "" {
		return
	}

	cooldownMs := int64(s.JoinNotifyCooldownMinutes) * 60 * 1000
	if !w.allowNotification(w.lastJoinNotifyAt, dedupKey(host, viewer), cooldownMs) {
		return
	}

	w.notify(
		fmt.Sprintf("@%s joined @%s", viewer, host),
		"Click to open the chat overlay.",
		OverlayURL(host),
	)
}

// maybeNotifyGiftSent sends a gift notification with its own per-pair
// cooldown (seconds).
func (w *Watcher) maybeNotifyGiftSent(host, viewer, giftSummary string, s settings.Settings) {
	if !s.GiftNotify || host == "" || viewer == "" {
		return
	}

	cooldownMs := int64(s.GiftNotifyCooldownSeconds) * 1000
	if !w.allowNotification(w.lastGiftNotifyAt, dedupKey(host, viewer), cooldownMs) {
		return
	}

	body := "in @" + host
	if giftSummary != "" {
		body += " • " + giftSummary
	}
	w.notify(fmt.Sprintf("@%s sent a gift", viewer), body, OverlayURL(host))
}

// allowNotification applies the per-pair cooldown and stamps the pair on
// success. A zero cooldown disables deduplication.
func (w *Watcher) allowNotification(last map[string]int64, key string, cooldownMs int64) bool {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if cooldownMs > 0 && now-last[key] < cooldownMs {
		return false
	}
	last[key] = now
	return true
}
