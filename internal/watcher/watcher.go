// Package watcher implements the live-status polling and join-tracking
// core: the scheduler, the per-account poll engine, the rate-limit
// governor and the join/gift tracking engine.
package watcher

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/kkstefanov/tiktok-live-watcher/api"
	"github.com/kkstefanov/tiktok-live-watcher/internal/config"
	"github.com/kkstefanov/tiktok-live-watcher/internal/models"
	"github.com/kkstefanov/tiktok-live-watcher/internal/settings"
)

// Store is the persistence surface the watcher needs. Implemented by
// *database.Repository.
type Store interface {
	GetAccountStatuses() ([]models.AccountStatus, error)
	UpsertAccountStatus(status *models.AccountStatus) error
	ClearAccountStatuses() error
	AppendHistory(entry *models.HistoryEntry) error
	GetHistory(limit int) ([]models.HistoryEntry, error)
	CountHistory() (int64, error)
	ClearHistory() error
	AppendJoinEvent(event *models.JoinEvent) error
	GetJoinEvents(limit int) ([]models.JoinEvent, error)
	ClearJoinEvents() error
	GetWatchUsers() ([]string, error)
	ReplaceWatchUsers(usernames []string, now int64) error
	ClearSettings() error
}

// StatusChannel is the gateway channel used for live checks.
type StatusChannel interface {
	CheckLive(ctx context.Context, username string) api.CheckResult
	Connected() bool
}

// TrackingChannel is the gateway channel used for join/gift tracking.
type TrackingChannel interface {
	EnsureConnected(ctx context.Context) bool
	SubscribeUser(ctx context.Context, username string) error
	On(event string, h api.Handler)
	Connected() bool
}

// Notifier delivers a transient user-facing notification with a click
// target.
type Notifier interface {
	Notify(title, body, targetURL string)
}

// Publisher pushes structured updates to dashboard observers.
type Publisher interface {
	Publish(kind string, payload interface{})
}

// HealthRecorder counts gateway call outcomes.
type HealthRecorder interface {
	RecordCall(success bool)
}

// Timing holds the numeric policy of the core. The specific values are
// behavior, not tuning knobs; tests shrink them.
type Timing struct {
	RateLimitCooldown        time.Duration
	SwitchMinInterval        time.Duration
	Dwell                    time.Duration
	EmptyLiveWait            time.Duration
	StatusMinIntervalAllLive time.Duration
	RetryBaseDelay           time.Duration
	RetryJitter              time.Duration
	InterAccountDelay        time.Duration
	InterAccountJitter       time.Duration
	ConnectTimeout           time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		RateLimitCooldown:        5 * time.Minute,
		SwitchMinInterval:        25 * time.Second,
		Dwell:                    60 * time.Second,
		EmptyLiveWait:            15 * time.Second,
		StatusMinIntervalAllLive: 5 * time.Minute,
		RetryBaseDelay:           350 * time.Millisecond,
		RetryJitter:              220 * time.Millisecond,
		InterAccountDelay:        350 * time.Millisecond,
		InterAccountJitter:       220 * time.Millisecond,
		ConnectTimeout:           8 * time.Second,
	}
}

// Tracking modes.
const (
	ModeSingle  = "single"
	ModeAllLive = "allLive"
)

// Watcher owns all mutable core state. Everything under mu is mutated
// only through its methods; blocking work (gateway calls, sleeps) happens
// with the lock released, so guards are re-checked after every wait.
type Watcher struct {
	store     Store
	settings  *settings.Service
	status    StatusChannel
	tracking  TrackingChannel
	notifier  Notifier
	publisher Publisher
	health    HealthRecorder
	timing    Timing

	nowFn    func() time.Time
	sleepFn  func(d time.Duration)
	randIntn func(n int) int

	mu     sync.Mutex
	byUser map[string]*models.AccountStatus
	watch  []string

	isChecking           bool
	rerunQueued          bool
	lastStatusCheckAt    int64
	nextScheduledCheckAt int64
	scheduleTimer        *time.Timer

	nextAllowedCheckAt int64
	joinCooldownUntil  int64

	trackerActive    bool
	trackingMode     string
	trackedHost      string
	rotationEpoch    uint64
	lastJoinSwitchAt int64

	lastJoinNotifyAt map[string]int64
	lastGiftNotifyAt map[string]int64
}

// New wires the watcher. notifier, publisher and health may be nil.
func New(store Store, svc *settings.Service, status StatusChannel, tracking TrackingChannel, notifier Notifier, publisher Publisher, health HealthRecorder) *Watcher {
	return &Watcher{
		store:            store,
		settings:         svc,
		status:           status,
		tracking:         tracking,
		notifier:         notifier,
		publisher:        publisher,
		health:           health,
		timing:           DefaultTiming(),
		nowFn:            time.Now,
		sleepFn:          time.Sleep,
		randIntn:         rand.Intn,
		byUser:           make(map[string]*models.AccountStatus),
		trackingMode:     ModeSingle,
		lastJoinNotifyAt: make(map[string]int64),
		lastGiftNotifyAt: make(map[string]int64),
	}
}

func (w *Watcher) now() int64 {
	return w.nowFn().UnixMilli()
}

// Start restores persisted state, registers tracking handlers and kicks
// off the first poll cycle.
func (w *Watcher) Start() {
	statuses, err := w.store.GetAccountStatuses()
	if err != nil {
		log.Printf("Error loading account statuses: %v", err)
	}
	watch, err := w.store.GetWatchUsers()
	if err != nil {
		log.Printf("Error loading watch list: %v", err)
	}

	w.mu.Lock()
	for i := range statuses {
		s := statuses[i]
		w.byUser[s.Username] = &s
	}
	w.watch = settings.UniqUsernames(watch)
	w.mu.Unlock()

	w.registerTrackingHandlers()
	w.ScheduleChecks()

	go func() {
		w.RunCheck()
		w.maybeAutoStartAllLive(w.settings.Get())
	}()
}

// Stop halts the scheduler and any tracking session.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.scheduleTimer != nil {
		w.scheduleTimer.Stop()
		w.scheduleTimer = nil
	}
	w.mu.Unlock()
	w.StopTracking()
}

// UpdateSettings persists new settings and reschedules the poll timer.
func (w *Watcher) UpdateSettings(next settings.Settings) (settings.Settings, error) {
	n, err := w.settings.Set(next)
	if err != nil {
		return n, err
	}
	w.ScheduleChecks()
	w.publish("settings-updated", n)
	return n, nil
}

// WatchUsers returns the normalized watch-list.
func (w *Watcher) WatchUsers() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.watch...)
}

// SetWatchUsers replaces the watch-list with normalized, de-duplicated
// usernames.
func (w *Watcher) SetWatchUsers(next []string) []string {
	normalized := settings.UniqUsernames(next)
	if err := w.store.ReplaceWatchUsers(normalized, w.now()); err != nil {
		log.Printf("Error persisting watch list: %v", err)
	}
	w.mu.Lock()
	w.watch = normalized
	w.mu.Unlock()
	w.publishJoinTracker()
	return normalized
}

func (w *Watcher) watchSet() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := make(map[string]bool, len(w.watch))
	for _, u := range w.watch {
		set[u] = true
	}
	return set
}

// StateSnapshot returns a copy of the per-account state map.
func (w *Watcher) StateSnapshot() map[string]models.AccountStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]models.AccountStatus, len(w.byUser))
	for u, s := range w.byUser {
		out[u] = *s
	}
	return out
}

// History returns up to limit history entries, newest first (0 = all).
func (w *Watcher) History(limit int) ([]models.HistoryEntry, error) {
	return w.store.GetHistory(limit)
}

// JoinEvents returns up to limit join events, newest first (0 = all).
func (w *Watcher) JoinEvents(limit int) ([]models.JoinEvent, error) {
	return w.store.GetJoinEvents(limit)
}

// MarkNotificationsRead stores the read marker and pushes the new state.
func (w *Watcher) MarkNotificationsRead(ts int64) int64 {
	readAt := w.settings.MarkNotificationsRead(ts)
	w.publish("notifications-state-updated", map[string]int64{"lastReadAt": readAt})
	return readAt
}

// ClearHistory wipes the history log.
func (w *Watcher) ClearHistory() {
	if err := w.store.ClearHistory(); err != nil {
		log.Printf("Error clearing history: %v", err)
	}
	w.publish("history-updated", nil)
}

// ClearJoinEvents wipes the join-event log.
func (w *Watcher) ClearJoinEvents() {
	if err := w.store.ClearJoinEvents(); err != nil {
		log.Printf("Error clearing join events: %v", err)
	}
	w.publishJoinTracker()
}

// FactoryReset clears stored configuration and all runtime state. The
// process is expected to be relaunched afterwards.
func (w *Watcher) FactoryReset() {
	if err := w.store.ClearSettings(); err != nil {
		log.Printf("Error clearing settings: %v", err)
	}
	if err := w.store.ClearAccountStatuses(); err != nil {
		log.Printf("Error clearing account statuses: %v", err)
	}
	if err := w.store.ClearHistory(); err != nil {
		log.Printf("Error clearing history: %v", err)
	}
	if err := w.store.ClearJoinEvents(); err != nil {
		log.Printf("Error clearing join events: %v", err)
	}
	if err := w.store.ReplaceWatchUsers(nil, w.now()); err != nil {
		log.Printf("Error clearing watch list: %v", err)
	}

	w.mu.Lock()
	w.byUser = make(map[string]*models.AccountStatus)
	w.watch = nil
	w.trackedHost = ""
	w.trackerActive = false
	w.trackingMode = ModeSingle
	w.rotationEpoch++
	w.joinCooldownUntil = 0
	w.nextAllowedCheckAt = 0
	w.lastStatusCheckAt = 0
	w.nextScheduledCheckAt = 0
	w.mu.Unlock()

	w.publish("settings-updated", w.settings.Get())
	w.publish("state-updated", w.StateSnapshot())
	w.publish("history-updated", nil)
	w.publishJoinTracker()
	w.publishAppStatus()
}

func (w *Watcher) publish(kind string, payload interface{}) {
	if w.publisher != nil {
		w.publisher.Publish(kind, payload)
	}
}

func (w *Watcher) publishState() {
	w.publish("state-updated", w.StateSnapshot())
}

func (w *Watcher) publishAppStatus() {
	w.publish("app-status-updated", w.AppStatus())
}

// JoinTrackerState is the tracker payload pushed to observers.
type JoinTrackerState struct {
	WatchUsers    []string `json:"watchUsers"`
	TrackedHost   string   `json:"trackedHost"`
	Active        bool     `json:"active"`
	CooldownUntil int64    `json:"cooldownUntil"`
	Mode          string   `json:"mode"`
}

// JoinTracker returns the current tracking session state.
func (w *Watcher) JoinTracker() JoinTrackerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return JoinTrackerState{
		WatchUsers:    append([]string(nil), w.watch...),
		TrackedHost:   w.trackedHost,
		Active:        w.trackerActive,
		CooldownUntil: w.joinCooldownUntil,
		Mode:          w.trackingMode,
	}
}

func (w *Watcher) publishJoinTracker() {
	w.publish("join-tracker-updated", w.JoinTracker())
}

func (w *Watcher) appendHistory(entry models.HistoryEntry) {
	entry.ID = w.newID()
	entry.Ts = w.now()
	if err := w.store.AppendHistory(&entry); err != nil {
		log.Printf("Error appending history: %v", err)
		return
	}
	w.publish("history-updated", entry)
}

func (w *Watcher) appendJoinEvent(event models.JoinEvent) {
	event.ID = w.newID()
	event.Ts = w.now()
	if err := w.store.AppendJoinEvent(&event); err != nil {
		log.Printf("Error appending join event: %v", err)
		return
	}
	w.publishJoinTracker()
}

// HistoryConnectError returns an error hook that records gateway
// connection failures as non-fatal history entries.
func (w *Watcher) HistoryConnectError(reason string) func(error) {
	return func(err error) {
		log.Printf("gateway error (%s): %v", reason, err)
		w.appendHistory(models.HistoryEntry{
			Type:   "error",
			Reason: reason,
			Error:  err.Error(),
		})
	}
}

func (w *Watcher) newID() string {
	return fmt.Sprintf("%d-%06x", w.now(), w.randIntn(1<<24))
}

// OverlayURL builds the chat-overlay link used as notification click
// target.
func OverlayURL(username string) string {
	return config.OverlayBaseURL + "?username=" + url.QueryEscape(username) + "&" + config.OverlayParams
}
