// Package settings wraps the key-value settings store with typed access,
// normalization and range clamping.
package settings

import (
	"encoding/json"
	"log"
	"math"
	"sort"
	"strings"
	"time"
)

// Defaults mirrors the first-run configuration.
var Defaults = Settings{
	Usernames:                 []string{"kkstefanov", "ianaki82", "oceanclient1"},
	IntervalMinutes:           1,
	PerHostIntervals:          map[string]int{},
	JoinNotify:                true,
	JoinNotifyCooldownMinutes: 10,
	AutoTrackAllLive:          false,
	GiftTrack:                 true,
	GiftNotify:                false,
	GiftNotifyCooldownSeconds: 60,
}

const (
	keyUsernames                 = "usernames"
	keyIntervalMinutes           = "intervalMinutes"
	keyPerHostIntervals          = "perHostIntervals"
	keyJoinNotify                = "joinNotify"
	keyJoinNotifyCooldownMinutes = "joinNotifyCooldownMinutes"
	keyAutoTrackAllLive          = "autoTrackAllLive"
	keyGiftTrack                 = "giftTrack"
	keyGiftNotify                = "giftNotify"
	keyGiftNotifyCooldownSeconds = "giftNotifyCooldownSeconds"
	keyNotificationsLastReadAt   = "notificationsLastReadAt"
)

// Settings is the normalized user configuration consumed by the core.
type Settings struct {
	Usernames                 []string       `json:"usernames"`
	IntervalMinutes           int            `json:"intervalMinutes"`
	PerHostIntervals          map[string]int `json:"perHostIntervals"`
	JoinNotify                bool           `json:"joinNotify"`
	JoinNotifyCooldownMinutes int            `json:"joinNotifyCooldownMinutes"`
	AutoTrackAllLive          bool           `json:"autoTrackAllLive"`
	GiftTrack                 bool           `json:"giftTrack"`
	GiftNotify                bool           `json:"giftNotify"`
	GiftNotifyCooldownSeconds int            `json:"giftNotifyCooldownSeconds"`
}

// Store is the subset of the repository the settings service needs.
type Store interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	SetSettings(bag map[string]string) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// NormalizeUsername lowercases a handle and strips leading "@".
func NormalizeUsername(u string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(u), "@"))
}

// UniqUsernames normalizes and de-duplicates, preserving order.
func UniqUsernames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		u := NormalizeUsername(v)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// ClampIntervalMinutes rounds and clamps a polling interval to [1,60].
// Non-finite input falls back to the default interval.
func ClampIntervalMinutes(n float64) int {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Defaults.IntervalMinutes
	}
	v := int(math.Round(n))
	if v < 1 {
		return 1
	}
	if v > 60 {
		return 60
	}
	return v
}

// ClampJoinNotifyCooldownMinutes clamps to [0,180].
func ClampJoinNotifyCooldownMinutes(n float64) int {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Defaults.JoinNotifyCooldownMinutes
	}
	v := int(math.Round(n))
	if v < 0 {
		return 0
	}
	if v > 180 {
		return 180
	}
	return v
}

// ClampGiftNotifyCooldownSeconds clamps to [0,3600].
func ClampGiftNotifyCooldownSeconds(n float64) int {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Defaults.GiftNotifyCooldownSeconds
	}
	v := int(math.Round(n))
	if v < 0 {
		return 0
	}
	if v > 3600 {
		return 3600
	}
	return v
}

// NormalizePerHostIntervals keeps only valid overrides. A value of zero or
// less is treated as "unset" and dropped, so the global interval applies.
func NormalizePerHostIntervals(in map[string]float64) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		u := NormalizeUsername(k)
		if u == "" {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			continue
		}
		out[u] = ClampIntervalMinutes(v)
	}
	return out
}

// PolicyIntervalMinutesFor resolves the effective poll interval for one
// account: per-host override if set, else the global interval.
func PolicyIntervalMinutesFor(username string, s Settings) int {
	u := NormalizeUsername(username)
	if override, ok := s.PerHostIntervals[u]; ok && override > 0 {
		return ClampIntervalMinutes(float64(override))
	}
	return ClampIntervalMinutes(float64(s.IntervalMinutes))
}

// Normalize returns a copy with every field clamped/normalized.
func Normalize(s Settings) Settings {
	perHost := make(map[string]float64, len(s.PerHostIntervals))
	for k, v := range s.PerHostIntervals {
		perHost[k] = float64(v)
	}
	return Settings{
		Usernames:                 UniqUsernames(s.Usernames),
		IntervalMinutes:           ClampIntervalMinutes(float64(s.IntervalMinutes)),
		PerHostIntervals:          NormalizePerHostIntervals(perHost),
		JoinNotify:                s.JoinNotify,
		JoinNotifyCooldownMinutes: ClampJoinNotifyCooldownMinutes(float64(s.JoinNotifyCooldownMinutes)),
		AutoTrackAllLive:          s.AutoTrackAllLive,
		GiftTrack:                 s.GiftTrack,
		GiftNotify:                s.GiftNotify,
		GiftNotifyCooldownSeconds: ClampGiftNotifyCooldownSeconds(float64(s.GiftNotifyCooldownSeconds)),
	}
}

// Get loads settings from the store, applying defaults for unset keys and
// normalizing everything that was stored.
func (svc *Service) Get() Settings {
	s := Defaults
	s.PerHostIntervals = map[string]int{}
	s.Usernames = append([]string(nil), Defaults.Usernames...)

	loadJSON(svc.store, keyUsernames, &s.Usernames)
	loadJSON(svc.store, keyIntervalMinutes, &s.IntervalMinutes)
	loadJSON(svc.store, keyPerHostIntervals, &s.PerHostIntervals)
	loadJSON(svc.store, keyJoinNotify, &s.JoinNotify)
	loadJSON(svc.store, keyJoinNotifyCooldownMinutes, &s.JoinNotifyCooldownMinutes)
	loadJSON(svc.store, keyAutoTrackAllLive, &s.AutoTrackAllLive)
	loadJSON(svc.store, keyGiftTrack, &s.GiftTrack)
	loadJSON(svc.store, keyGiftNotify, &s.GiftNotify)
	loadJSON(svc.store, keyGiftNotifyCooldownSeconds, &s.GiftNotifyCooldownSeconds)

	return Normalize(s)
}

// Set normalizes and persists the whole settings bag, returning the
// normalized result.
func (svc *Service) Set(next Settings) (Settings, error) {
	n := Normalize(next)
	bag := map[string]string{
		keyUsernames:                 mustJSON(n.Usernames),
		keyIntervalMinutes:           mustJSON(n.IntervalMinutes),
		keyPerHostIntervals:          mustJSON(n.PerHostIntervals),
		keyJoinNotify:                mustJSON(n.JoinNotify),
		keyJoinNotifyCooldownMinutes: mustJSON(n.JoinNotifyCooldownMinutes),
		keyAutoTrackAllLive:          mustJSON(n.AutoTrackAllLive),
		keyGiftTrack:                 mustJSON(n.GiftTrack),
		keyGiftNotify:                mustJSON(n.GiftNotify),
		keyGiftNotifyCooldownSeconds: mustJSON(n.GiftNotifyCooldownSeconds),
	}
	if err := svc.store.SetSettings(bag); err != nil {
		return n, err
	}
	return n, nil
}

// NotificationsLastReadAt returns the epoch-ms read marker, 0 if unset.
func (svc *Service) NotificationsLastReadAt() int64 {
	var ts int64
	loadJSON(svc.store, keyNotificationsLastReadAt, &ts)
	if ts < 0 {
		return 0
	}
	return ts
}

// MarkNotificationsRead stores the read marker; a non-positive ts means
// "now".
func (svc *Service) MarkNotificationsRead(ts int64) int64 {
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	if err := svc.store.SetSetting(keyNotificationsLastReadAt, mustJSON(ts)); err != nil {
		log.Printf("Error persisting notifications read marker: %v", err)
	}
	return ts
}

func loadJSON(store Store, key string, out interface{}) {
	raw, err := store.GetSetting(key)
	if err != nil {
		log.Printf("Error reading setting %s: %v", key, err)
		return
	}
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Printf("Ignoring malformed setting %s: %v", key, err)
	}
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// SortedOverrideValues returns the override intervals in ascending order,
// used by the scheduler to find the tightest cadence.
func SortedOverrideValues(perHost map[string]int) []int {
	out := make([]int, 0, len(perHost))
	for _, v := range perHost {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
