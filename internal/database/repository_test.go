package database

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/kkstefanov/tiktok-live-watcher/internal/models"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	if err := Init("sqlite", ":memory:"); err != nil {
		t.Fatalf("init database: %v", err)
	}
	t.Cleanup(Close)
	return NewRepository()
}

func TestSettingsRoundTrip(t *testing.T) {
	repo := setupRepo(t)

	if v, err := repo.GetSetting("missing"); err != nil || v != "" {
		t.Errorf("unset key = (%q, %v), want empty", v, err)
	}

	if err := repo.SetSetting("intervalMinutes", "5"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := repo.SetSetting("intervalMinutes", "7"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	if v, _ := repo.GetSetting("intervalMinutes"); v != "7" {
		t.Errorf("value = %q, want 7", v)
	}

	err := repo.SetSettings(map[string]string{
		"joinNotify": "true",
		"usernames":  `["alice"]`,
	})
	if err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	if v, _ := repo.GetSetting("joinNotify"); v != "true" {
		t.Errorf("bag value = %q, want true", v)
	}

	if err := repo.ClearSettings(); err != nil {
		t.Fatalf("ClearSettings: %v", err)
	}
	if v, _ := repo.GetSetting("joinNotify"); v != "" {
		t.Errorf("value after clear = %q, want empty", v)
	}
}

func TestAccountStatusUpsert(t *testing.T) {
	repo := setupRepo(t)

	live := true
	status := models.AccountStatus{Username: "alice", OK: true, IsLive: &live, RoomID: "1"}
	if err := repo.UpsertAccountStatus(&status); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	status.RoomID = "2"
	if err := repo.UpsertAccountStatus(&status); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	statuses, err := repo.GetAccountStatuses()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(statuses) != 1 || statuses[0].RoomID != "2" {
		t.Errorf("statuses = %+v", statuses)
	}
	if statuses[0].IsLive == nil || !*statuses[0].IsLive {
		t.Errorf("liveness lost on round trip: %+v", statuses[0])
	}
}

func TestHistoryIsBoundedKeepingNewest(t *testing.T) {
	repo := setupRepo(t)

	total := HistoryLimit + 3
	for i := 1; i <= total; i++ {
		entry := models.HistoryEntry{
			ID:   fmt.Sprintf("e-%06d", i),
			Ts:   int64(i),
			Type: "error",
		}
		if err := repo.AppendHistory(&entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	count, err := repo.CountHistory()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != HistoryLimit {
		t.Errorf("count = %d, want %d", count, HistoryLimit)
	}

	entries, err := repo.GetHistory(0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != HistoryLimit {
		t.Fatalf("entries = %d, want %d", len(entries), HistoryLimit)
	}
	// Newest first; the oldest 3 were evicted.
	if entries[0].Ts != int64(total) {
		t.Errorf("newest ts = %d, want %d", entries[0].Ts, total)
	}
	if oldest := entries[len(entries)-1].Ts; oldest != 4 {
		t.Errorf("oldest surviving ts = %d, want 4", oldest)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	repo := setupRepo(t)
	for i := 1; i <= 10; i++ {
		entry := models.HistoryEntry{ID: fmt.Sprintf("e-%d", i), Ts: int64(i), Type: "error"}
		if err := repo.AppendHistory(&entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := repo.GetHistory(3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 3 || entries[0].Ts != 10 || entries[2].Ts != 8 {
		t.Errorf("limited entries = %+v", entries)
	}
}

func TestJoinEventsAppendAndClear(t *testing.T) {
	repo := setupRepo(t)
	for i := 1; i <= 5; i++ {
		event := models.JoinEvent{
			ID:     fmt.Sprintf("j-%d", i),
			Ts:     int64(i),
			Type:   "viewer_joined",
			Host:   "host1",
			Viewer: "alice",
		}
		if err := repo.AppendJoinEvent(&event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := repo.GetJoinEvents(0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(events) != 5 || events[0].Ts != 5 {
		t.Errorf("events = %+v", events)
	}

	if err := repo.ClearJoinEvents(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	events, _ = repo.GetJoinEvents(0)
	if len(events) != 0 {
		t.Errorf("events after clear = %d", len(events))
	}
}

func TestReplaceWatchUsersPreservesOrder(t *testing.T) {
	repo := setupRepo(t)

	if err := repo.ReplaceWatchUsers([]string{"carol", "alice", "bob"}, 1000); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := repo.GetWatchUsers()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"carol", "alice", "bob"}) {
		t.Errorf("watch users = %v", got)
	}

	if err := repo.ReplaceWatchUsers([]string{"dave"}, 2000); err != nil {
		t.Fatalf("replace again: %v", err)
	}
	got, _ = repo.GetWatchUsers()
	if !reflect.DeepEqual(got, []string{"dave"}) {
		t.Errorf("watch users after replace = %v", got)
	}
}

func TestUpdateAPIHealthBulkAccumulates(t *testing.T) {
	repo := setupRepo(t)

	if err := repo.UpdateAPIHealthBulk("tiktok_gateway", 10, 8); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if err := repo.UpdateAPIHealthBulk("tiktok_gateway", 5, 5); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if err := repo.UpdateAPIHealthBulk("tiktok_gateway", 0, 0); err != nil {
		t.Fatalf("empty flush: %v", err)
	}

	var stat models.APIHealthStat
	if err := DB.First(&stat, "service_name = ?", "tiktok_gateway").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if stat.TotalRequests != 15 || stat.SuccessfulRequests != 13 {
		t.Errorf("stat = %+v, want 15/13", stat)
	}
}
