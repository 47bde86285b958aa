package models

import (
	"time"
)

// AccountStatus is the persisted last-known poll state for one monitored
// host account. Timestamps are epoch milliseconds; zero means "never".
type AccountStatus struct {
	Username              string `gorm:"primaryKey;column:username"`
	OK                    bool   `gorm:"column:ok"`
	IsLive                *bool  `gorm:"column:is_live"`
	Confidence            string `gorm:"column:confidence"` // "high" | "low"
	CheckedAt             int64  `gorm:"column:checked_at"`
	DurationMs            int64  `gorm:"column:duration_ms"`
	RoomID                string `gorm:"column:room_id"`
	ViewerCount           int64  `gorm:"column:viewer_count"`
	Reason                string `gorm:"column:reason"`
	Error                 string `gorm:"column:error"`
	LastChangeAt          int64  `gorm:"column:last_change_at"`
	LastLiveSeenAt        int64  `gorm:"column:last_live_seen_at"`
	LastLiveStartedAt     int64  `gorm:"column:last_live_started_at"`
	LastLiveEndedAt       int64  `gorm:"column:last_live_ended_at"`
	PolicyIntervalMinutes int    `gorm:"column:policy_interval_minutes"`
	NextDueAt             int64  `gorm:"column:next_due_at"`
}

func (AccountStatus) TableName() string {
	return "account_status"
}

// HistoryEntry is an append-only log record shown in the dashboard's
// history/notification center. Bounded to HistoryLimit rows.
type HistoryEntry struct {
	ID       string `gorm:"primaryKey;column:id"`
	Ts       int64  `gorm:"column:ts;index"`
	Type     string `gorm:"column:type"`
	Username string `gorm:"column:username"`
	RoomID   string `gorm:"column:room_id"`
	Reason   string `gorm:"column:reason"`
	Error    string `gorm:"column:error"`
}

func (HistoryEntry) TableName() string {
	return "history_entries"
}

// JoinEvent is an append-only record from the join/gift tracker.
// Bounded to JoinEventsLimit rows.
type JoinEvent struct {
	ID     string `gorm:"primaryKey;column:id"`
	Ts     int64  `gorm:"column:ts;index"`
	Type   string `gorm:"column:type"`
	Host   string `gorm:"column:host"`
	Viewer string `gorm:"column:viewer"`
	Error  string `gorm:"column:error"`
}

func (JoinEvent) TableName() string {
	return "join_events"
}

// WatchUser is a viewer username the operator wants join/gift alerts for.
type WatchUser struct {
	Username string `gorm:"primaryKey;column:username"`
	AddedAt  int64  `gorm:"column:added_at"`
}

func (WatchUser) TableName() string {
	return "watch_users"
}

// Setting is one key of the user configuration KV store. Values are JSON.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

// APIHealthStat tracks success/total counters per upstream service.
type APIHealthStat struct {
	ServiceName        string `gorm:"primaryKey;column:service_name"`
	TotalRequests      uint64 `gorm:"column:total_requests"`
	SuccessfulRequests uint64 `gorm:"column:successful_requests"`
}

func (APIHealthStat) TableName() string {
	return "api_health_stats"
}
