package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kkstefanov/tiktok-live-watcher/api"
	"github.com/kkstefanov/tiktok-live-watcher/internal/models"
	"github.com/kkstefanov/tiktok-live-watcher/internal/settings"
)

// StartTracking subscribes the tracking channel to one host ("single"
// mode). Any running all-live rotation is invalidated by the epoch bump.
func (w *Watcher) StartTracking(host string) error {
	host = settings.NormalizeUsername(host)
	if host == "" {
		return errors.New("missing host")
	}

	w.mu.Lock()
	cooldown := w.joinCooldownUntil
	w.mu.Unlock()
	if w.now() < cooldown {
		return fmt.Errorf("cooldown until %s", time.UnixMilli(cooldown).Format(time.Kitchen))
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timing.ConnectTimeout)
	defer cancel()
	if !w.tracking.EnsureConnected(ctx) {
		return errors.New("join tracker socket not connected")
	}

	w.mu.Lock()
	w.trackingMode = ModeSingle
	w.rotationEpoch++
	w.trackedHost = host
	w.lastJoinSwitchAt = w.now()
	w.trackerActive = true
	w.mu.Unlock()
	w.publishJoinTracker()

	if err := w.tracking.SubscribeUser(ctx, host); err != nil {
		w.appendJoinEvent(models.JoinEvent{Type: "emit_failed", Host: host, Error: err.Error()})
		return err
	}
	w.appendJoinEvent(models.JoinEvent{Type: "tracking_started", Host: host})
	return nil
}

// StartTrackingAllLive starts a background rotation across every host
// whose polled status is live.
func (w *Watcher) StartTrackingAllLive() error {
	w.mu.Lock()
	cooldown := w.joinCooldownUntil
	w.mu.Unlock()
	if w.now() < cooldown {
		return fmt.Errorf("cooldown until %s", time.UnixMilli(cooldown).Format(time.Kitchen))
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timing.ConnectTimeout)
	defer cancel()
	if !w.tracking.EnsureConnected(ctx) {
		return errors.New("join tracker socket not connected")
	}

	w.mu.Lock()
	w.trackingMode = ModeAllLive
	w.trackerActive = true
	w.trackedHost = ""
	w.rotationEpoch++
	epoch := w.rotationEpoch
	w.mu.Unlock()
	w.publishJoinTracker()
	w.appendJoinEvent(models.JoinEvent{Type: "tracking_all_live_started"})

	go w.rotationLoop(epoch)
	return nil
}

// rotationAlive reports whether a loop started at epoch should keep
// running. Checked after every suspension point.
func (w *Watcher) rotationAlive(epoch uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trackerActive && w.trackingMode == ModeAllLive && w.rotationEpoch == epoch
}

// rotationLoop cycles the tracking subscription across the live hosts,
// dwelling on each one and honoring the minimum switch spacing. The live
// list is re-derived on every pass so hosts that go offline drop out.
func (w *Watcher) rotationLoop(epoch uint64) {
	for w.rotationAlive(epoch) {
		hosts := w.liveHosts()
		if len(hosts) == 0 {
			w.mu.Lock()
			w.trackedHost = ""
			w.mu.Unlock()
			w.publishJoinTracker()
			w.sleepFn(w.timing.EmptyLiveWait)
			continue
		}

		for _, host := range hosts {
			if !w.rotationAlive(epoch) {
				return
			}

			w.mu.Lock()
			cooldown := w.joinCooldownUntil
			sinceSwitch := w.now() - w.lastJoinSwitchAt
			w.mu.Unlock()
			if w.now() < cooldown {
				return
			}

			if spacing := w.timing.SwitchMinInterval.Milliseconds(); sinceSwitch < spacing {
				w.sleepFn(time.Duration(spacing-sinceSwitch) * time.Millisecond)
				if !w.rotationAlive(epoch) {
					return
				}
			}

			w.mu.Lock()
			w.trackedHost = host
			w.lastJoinSwitchAt = w.now()
			w.mu.Unlock()
			w.publishJoinTracker()

			ctx, cancel := context.WithTimeout(context.Background(), w.timing.ConnectTimeout)
			err := w.tracking.SubscribeUser(ctx, host)
			cancel()
			if err != nil {
				w.appendJoinEvent(models.JoinEvent{Type: "emit_failed", Host: host, Error: err.Error()})
			} else {
				w.appendJoinEvent(models.JoinEvent{Type: "tracking_host", Host: host})
			}

			w.sleepFn(w.timing.Dwell)
		}
	}
}

// StopTracking deactivates the session and kills any in-flight rotation.
func (w *Watcher) StopTracking() {
	w.mu.Lock()
	w.trackerActive = false
	w.rotationEpoch++
	mode := w.trackingMode
	host := w.trackedHost
	w.trackingMode = ModeSingle
	w.trackedHost = ""
	w.mu.Unlock()

	eventType := "tracking_stopped"
	if mode == ModeAllLive {
		eventType = "tracking_all_live_stopped"
	}
	w.appendJoinEvent(models.JoinEvent{Type: eventType, Host: host})
	w.publishJoinTracker()
}

// registerTrackingHandlers attaches the persistent inbound handlers to
// the tracking channel.
func (w *Watcher) registerTrackingHandlers() {
	w.tracking.On(api.EventMember, w.handleMember)
	w.tracking.On(api.EventGift, w.handleGift)
	w.tracking.On(api.EventStreamEnd, w.handleTrackingStreamEnd)
	w.tracking.On(api.EventDisconnected, w.handleTrackingDisconnect)
}

func (w *Watcher) trackingSnapshot() (active bool, host string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trackerActive, w.trackedHost
}

func (w *Watcher) handleMember(data json.RawMessage) {
	active, host := w.trackingSnapshot()
	if !active {
		return
	}
	viewer := ExtractMemberViewer(data)
	if viewer == "" {
		return
	}
	if !w.watchSet()[viewer] {
		return
	}

	w.appendJoinEvent(models.JoinEvent{Type: "viewer_joined", Host: host, Viewer: viewer})
	// Mirrored into global history for the notification center.
	w.appendHistory(models.HistoryEntry{
		Type:     "viewer_joined",
		Username: host,
		Reason:   "join",
		Error:    viewer,
	})
	w.maybeNotifyViewerJoined(host, viewer)
}

func (w *Watcher) handleGift(data json.RawMessage) {
	active, host := w.trackingSnapshot()
	if !active {
		return
	}
	s := w.settings.Get()
	if !s.GiftTrack {
		return
	}
	viewer := ExtractGiftViewer(data)
	if viewer == "" {
		return
	}
	if !w.watchSet()[viewer] {
		return
	}

	summary := SummarizeGift(data)

	w.appendJoinEvent(models.JoinEvent{Type: "gift_sent", Host: host, Viewer: viewer, Error: summary})
	detail := viewer
	if summary != "" {
		detail = viewer + " • " + summary
	}
	w.appendHistory(models.HistoryEntry{
		Type:     "gift_sent",
		Username: host,
		Reason:   "gift",
		Error:    detail,
	})
	w.maybeNotifyGiftSent(host, viewer, summary, s)
}

func (w *Watcher) handleTrackingStreamEnd(json.RawMessage) {
	active, host := w.trackingSnapshot()
	if !active {
		return
	}
	w.appendJoinEvent(models.JoinEvent{Type: "stream_end", Host: host})
}

func (w *Watcher) handleTrackingDisconnect(data json.RawMessage) {
	msg := api.RawMessageText(data)
	if _, rateLimited := api.ClassifyDisconnect(msg); rateLimited {
		w.RecordRateLimit("joinTracker", msg)
	}
	active, host := w.trackingSnapshot()
	if active {
		w.appendJoinEvent(models.JoinEvent{Type: "tiktok_disconnected", Host: host, Error: msg})
	}
}
