package watcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kkstefanov/tiktok-live-watcher/internal/settings"
)

const giftSummaryJSONMaxLen = 220

// Field fallback chains for loosely-typed gateway payloads. The order is
// behavior: downstream payload shape is outside our control and
// reordering could silently change which events get attributed.
var memberViewerPaths = [][]string{
	{"uniqueId"},
	{"uniqueID"},
	{"user", "uniqueId"},
}

var giftViewerPaths = [][]string{
	{"uniqueId"},
	{"uniqueID"},
	{"user", "uniqueId"},
	{"user", "uniqueID"},
	{"userId"},
	{"user", "userId"},
}

var giftNamePaths = [][]string{
	{"giftName"},
	{"gift", "giftName"},
	{"gift", "name"},
	{"gift", "gift", "giftName"},
	{"gift", "gift", "name"},
	{"gift", "giftType"},
}

var giftRepeatPaths = [][]string{
	{"repeatCount"},
	{"repeat"},
	{"giftCount"},
	{"amount"},
	{"gift", "repeatCount"},
	{"gift", "repeat"},
}

var giftDiamondPaths = [][]string{
	{"diamondCount"},
	{"gift", "diamondCount"},
	{"gift", "diamond"},
	{"gift", "cost"},
}

// ExtractMemberViewer pulls the normalized viewer handle from a member
// (join) payload, or "" if none is present.
func ExtractMemberViewer(raw json.RawMessage) string {
	return extractViewer(raw, memberViewerPaths)
}

// ExtractGiftViewer pulls the normalized viewer handle from a gift
// payload, or "" if none is present.
func ExtractGiftViewer(raw json.RawMessage) string {
	return extractViewer(raw, giftViewerPaths)
}

func extractViewer(raw json.RawMessage, paths [][]string) string {
	payload := decodeLoose(raw)
	if payload == nil {
		return ""
	}
	for _, path := range paths {
		if v := lookupPath(payload, path); v != nil {
			switch t := v.(type) {
			case string:
				if u := settings.NormalizeUsername(t); u != "" {
					return u
				}
			case float64:
				return fmt.Sprintf("%.0f", t)
			}
		}
	}
	return ""
}

// SummarizeGift composes a short human string like "Rose x3 • 150
// diamonds". When no fields are recognized it falls back to a truncated
// JSON dump, never an empty string.
func SummarizeGift(raw json.RawMessage) string {
	payload := decodeLoose(raw)

	var name string
	for _, path := range giftNamePaths {
		if v, ok := lookupPath(payload, path).(string); ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				name = trimmed
				break
			}
		}
	}

	repeat := lookupNumber(payload, giftRepeatPaths)
	diamonds := lookupNumber(payload, giftDiamondPaths)

	var parts []string
	if name != "" {
		parts = append(parts, name)
	}
	if repeat > 1 {
		if len(parts) > 0 {
			parts[0] = fmt.Sprintf("%s x%d", parts[0], repeat)
		} else {
			parts = append(parts, fmt.Sprintf("x%d", repeat))
		}
	}
	if diamonds > 0 {
		parts = append(parts, fmt.Sprintf("%d diamonds", diamonds))
	}

	if out := strings.TrimSpace(strings.Join(parts, " • ")); out != "" {
		return out
	}

	dump := string(raw)
	if dump == "" || dump == "null" {
		return "gift"
	}
	if len(dump) > giftSummaryJSONMaxLen {
		dump = dump[:giftSummaryJSONMaxLen]
	}
	return dump
}

func decodeLoose(raw json.RawMessage) map[string]interface{} {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload
}

func lookupPath(payload map[string]interface{}, path []string) interface{} {
	current := payload
	for i, key := range path {
		v, ok := current[key]
		if !ok {
			return nil
		}
		if i == len(path)-1 {
			return v
		}
		current, ok = v.(map[string]interface{})
		if !ok {
			return nil
		}
	}
	return nil
}

func lookupNumber(payload map[string]interface{}, paths [][]string) int64 {
	for _, path := range paths {
		if n, ok := lookupPath(payload, path).(float64); ok {
			return int64(n)
		}
	}
	return 0
}
