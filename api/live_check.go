package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Gateway signal names.
const (
	EventConnected    = "tiktokConnected"
	EventDisconnected = "tiktokDisconnected"
	EventStreamEnd    = "streamEnd"
	EventMember       = "member"
	EventGift         = "gift"
)

// CheckTimeout bounds one live check against the gateway.
const CheckTimeout = 12 * time.Second

// CheckResult is the structured outcome of one live check. It is never an
// error: every failure mode maps to OK=false plus a Reason.
type CheckResult struct {
	Username    string
	CheckedAt   int64
	DurationMs  int64
	OK          bool
	IsLive      *bool // nil = unknown
	Confidence  string
	RoomID      string
	ViewerCount *int64
	Reason      string
	Error       string
}

var (
	boolTrue  = true
	boolFalse = false
)

// roomIDFields and viewerCountFields are checked in order; the first
// usable value wins. The payload shape is outside our control, so the
// order is behavior and must not be rearranged.
var roomIDFields = []string{"roomId", "roomID", "room_id"}
var viewerCountFields = []string{"viewerCount", "viewerCountNow", "memberCount", "userCount"}

// CheckLive subscribes to username on this channel and waits for exactly
// one of: connected, stream-ended, disconnected, or timeout. Transient
// listeners are torn down on every path.
func (c *Client) CheckLive(ctx context.Context, username string) CheckResult {
	startedAt := time.Now()
	result := func(r CheckResult) CheckResult {
		r.Username = username
		r.CheckedAt = time.Now().UnixMilli()
		r.DurationMs = time.Since(startedAt).Milliseconds()
		return r
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	connected := c.EnsureConnected(connectCtx)
	cancelConnect()
	if !connected {
		return result(CheckResult{
			OK:         false,
			Confidence: "low",
			Reason:     "service_not_connected",
			Error:      "gateway socket not connected",
		})
	}

	frames, cancel := c.awaitAny(EventConnected, EventStreamEnd, EventDisconnected)
	defer cancel()

	if err := c.SubscribeUser(ctx, username); err != nil {
		return result(CheckResult{
			OK:         false,
			Confidence: "low",
			Reason:     "emit_failed",
			Error:      err.Error(),
		})
	}

	timer := time.NewTimer(CheckTimeout)
	defer timer.Stop()

	select {
	case f := <-frames:
		return result(interpretFrame(f))
	case <-timer.C:
		return result(CheckResult{
			OK:         false,
			Confidence: "low",
			Reason:     "timeout",
			Error:      fmt.Sprintf("gateway timeout (%s)", CheckTimeout),
		})
	case <-ctx.Done():
		return result(CheckResult{
			OK:         false,
			Confidence: "low",
			Reason:     "timeout",
			Error:      ctx.Err().Error(),
		})
	}
}

func interpretFrame(f Frame) CheckResult {
	switch f.Event {
	case EventConnected:
		roomID, viewers := MineConnectedPayload(f.Data)
		return CheckResult{
			OK:          true,
			IsLive:      &boolTrue,
			Confidence:  "high",
			RoomID:      roomID,
			ViewerCount: viewers,
		}
	case EventStreamEnd:
		return CheckResult{
			OK:         true,
			IsLive:     &boolFalse,
			Confidence: "high",
			Reason:     "streamEnd",
		}
	case EventDisconnected:
		msg := RawMessageText(f.Data)
		ended, rateLimited := ClassifyDisconnect(msg)
		switch {
		case ended:
			return CheckResult{
				OK:         true,
				IsLive:     &boolFalse,
				Confidence: "high",
				Reason:     "streamEnded",
				Error:      msg,
			}
		case rateLimited:
			return CheckResult{
				OK:         false,
				Confidence: "low",
				Reason:     "rate_limited",
				Error:      msg,
			}
		default:
			return CheckResult{
				OK:         false,
				Confidence: "low",
				Reason:     "tiktokDisconnected",
				Error:      msg,
			}
		}
	}
	return CheckResult{OK: false, Confidence: "low", Reason: "tiktokDisconnected"}
}

// ClassifyDisconnect inspects a disconnect message. "live has ended" means
// the host is decisively offline; "too many connection" is the upstream
// rate-limit signal (matches both phrasings the gateway uses).
func ClassifyDisconnect(msg string) (ended, rateLimited bool) {
	lower := strings.ToLower(msg)
	ended = strings.Contains(lower, "live has ended")
	rateLimited = strings.Contains(lower, "too many connection")
	return ended, rateLimited
}

// RawMessageText renders a disconnect payload that may be a bare string or
// arbitrary JSON.
func RawMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// MineConnectedPayload extracts room id and viewer count from a connected
// signal. Field candidates are tried in order; for the viewer count the
// first finite non-negative number wins.
func MineConnectedPayload(raw json.RawMessage) (roomID string, viewerCount *int64) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", nil
	}

	for _, field := range roomIDFields {
		v, ok := payload[field]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t, mineViewerCount(payload)
			}
		case float64:
			return strconv.FormatInt(int64(t), 10), mineViewerCount(payload)
		}
	}
	return "", mineViewerCount(payload)
}

func mineViewerCount(payload map[string]interface{}) *int64 {
	for _, field := range viewerCountFields {
		v, ok := payload[field]
		if !ok {
			continue
		}
		n, ok := v.(float64)
		if !ok || n < 0 {
			continue
		}
		count := int64(n)
		return &count
	}
	return nil
}
