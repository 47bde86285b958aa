package watcher

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExtractMemberViewer(t *testing.T) {
	cases := []struct {
		payload string
		want    string
	}{
		{`{"uniqueId":"@Alice"}`, "alice"},
		{`{"uniqueID":"bob"}`, "bob"},
		{`{"user":{"uniqueId":"carol"}}`, "carol"},
		{`{"user":{"userId":123}}`, ""},
		{`{"noise":true}`, ""},
		{`not json`, ""},
	}
	for _, c := range cases {
		if got := ExtractMemberViewer(json.RawMessage(c.payload)); got != c.want {
			t.Errorf("ExtractMemberViewer(%s) = %q, want %q", c.payload, got, c.want)
		}
	}
}

func TestExtractGiftViewerFallbackOrder(t *testing.T) {
	// uniqueId beats the numeric userId when both exist.
	got := ExtractGiftViewer(json.RawMessage(`{"uniqueId":"alice","userId":42}`))
	if got != "alice" {
		t.Errorf("viewer = %q, want alice", got)
	}

	// Numeric ids are still usable as a last resort.
	got = ExtractGiftViewer(json.RawMessage(`{"userId":42}`))
	if got != "42" {
		t.Errorf("numeric viewer = %q, want 42", got)
	}

	got = ExtractGiftViewer(json.RawMessage(`{"user":{"uniqueID":"dave"}}`))
	if got != "dave" {
		t.Errorf("nested viewer = %q, want dave", got)
	}
}

func TestSummarizeGift(t *testing.T) {
	cases := []struct {
		payload string
		want    string
	}{
		{`{"giftName":"Rose","repeatCount":3,"diamondCount":150}`, "Rose x3 • 150 diamonds"},
		{`{"giftName":"Rose"}`, "Rose"},
		{`{"gift":{"name":"Lion"},"repeat":2}`, "Lion x2"},
		{`{"repeatCount":5}`, "x5"},
		{`{"diamondCount":10}`, "10 diamonds"},
		{`{"gift":{"gift":{"giftName":"Galaxy"}}}`, "Galaxy"},
	}
	for _, c := range cases {
		if got := SummarizeGift(json.RawMessage(c.payload)); got != c.want {
			t.Errorf("SummarizeGift(%s) = %q, want %q", c.payload, got, c.want)
		}
	}
}

func TestSummarizeGiftFallbackNeverEmpty(t *testing.T) {
	// No recognizable fields: truncated raw JSON, never "".
	raw := `{"weird":"` + strings.Repeat("z", 400) + `"}`
	got := SummarizeGift(json.RawMessage(raw))
	if got == "" {
		t.Fatal("empty summary")
	}
	if len(got) > giftSummaryJSONMaxLen {
		t.Errorf("summary length = %d, want <= %d", len(got), giftSummaryJSONMaxLen)
	}
	if !strings.HasPrefix(got, `{"weird"`) {
		t.Errorf("summary is not the raw payload: %q", got)
	}

	if got := SummarizeGift(nil); got != "gift" {
		t.Errorf("nil payload summary = %q, want gift", got)
	}
	if got := SummarizeGift(json.RawMessage(`null`)); got != "gift" {
		t.Errorf("null payload summary = %q, want gift", got)
	}
}
