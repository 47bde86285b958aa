package watcher

import (
	"log"
)

// AppStatusSummary describes cooldowns, throttling and connection health
// for the dashboard header and tray equivalents.
type AppStatusSummary struct {
	Now                      int64  `json:"now"`
	RateLimited              bool   `json:"rateLimited"`
	RateLimitedUntil         int64  `json:"rateLimitedUntil"`
	StatusThrottled          bool   `json:"statusThrottled"`
	StatusThrottledUntil     int64  `json:"statusThrottledUntil"`
	JoinTrackerActive        bool   `json:"joinTrackerActive"`
	JoinTrackingMode         string `json:"joinTrackingMode"`
	JoinTrackedHost          string `json:"joinTrackedHost"`
	AutoTrackAllLive         bool   `json:"autoTrackAllLive"`
	IsChecking               bool   `json:"isChecking"`
	LastStatusCheckAt        int64  `json:"lastStatusCheckAt"`
	NextScheduledCheckAt     int64  `json:"nextScheduledCheckAt"`
	IntervalMinutes          int    `json:"intervalMinutes"`
	UserCount                int    `json:"userCount"`
	WatchUsersCount          int    `json:"watchUsersCount"`
	HistoryCount             int64  `json:"historyCount"`
	StatusSocketConnected    bool   `json:"statusSocketConnected"`
	TrackingSocketConnected  bool   `json:"trackingSocketConnected"`
	NotificationsLastReadAt  int64  `json:"notificationsLastReadAt"`
}

// AppStatus derives the current summary from core state.
func (w *Watcher) AppStatus() AppStatusSummary {
	s := w.settings.Get()
	historyCount, err := w.store.CountHistory()
	if err != nil {
		log.Printf("Error counting history: %v", err)
	}

	w.mu.Lock()
	now := w.now()
	rateLimitedUntil := w.nextAllowedCheckAt
	if w.joinCooldownUntil > rateLimitedUntil {
		rateLimitedUntil = w.joinCooldownUntil
	}
	allLive := w.trackerActive && w.trackingMode == ModeAllLive
	var statusThrottledUntil int64
	if allLive {
		statusThrottledUntil = w.lastStatusCheckAt + w.timing.StatusMinIntervalAllLive.Milliseconds()
		if statusThrottledUntil < 0 {
			statusThrottledUntil = 0
		}
	}
	summary := AppStatusSummary{
		Now:                     now,
		RateLimited:             now < rateLimitedUntil,
		RateLimitedUntil:        rateLimitedUntil,
		StatusThrottled:         allLive && now < statusThrottledUntil,
		StatusThrottledUntil:    statusThrottledUntil,
		JoinTrackerActive:       w.trackerActive,
		JoinTrackingMode:        w.trackingMode,
		JoinTrackedHost:         w.trackedHost,
		AutoTrackAllLive:        s.AutoTrackAllLive,
		IsChecking:              w.isChecking,
		LastStatusCheckAt:       w.lastStatusCheckAt,
		NextScheduledCheckAt:    w.nextScheduledCheckAt,
		IntervalMinutes:         s.IntervalMinutes,
		UserCount:               len(s.Usernames),
		WatchUsersCount:         len(w.watch),
		HistoryCount:            historyCount,
		StatusSocketConnected:   w.status != nil && w.status.Connected(),
		TrackingSocketConnected: w.tracking != nil && w.tracking.Connected(),
	}
	w.mu.Unlock()

	summary.NotificationsLastReadAt = w.settings.NotificationsLastReadAt()
	return summary
}
