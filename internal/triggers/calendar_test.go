package triggers

import (
	"testing"
	"time"
)

const sampleICal = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTART:20260825T140000Z\r\n" +
	"DTEND:20260825T150000Z\r\n" +
	"SUMMARY:Team standup\r\n" +
	"DESCRIPTION:Weekly sync\\, bring\r\n" +
	" notes and questions\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTART;VALUE=DATE:20260826\r\n" +
	"SUMMARY:All day offsite\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No start time\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestCalendarFetchTimeout(t *testing.T) {
	// Calendar pulls share the 15 s bound of the other remote fetches.
	e := NewEngine(nil, nil, nil, "")
	if e.client.Timeout != 15*time.Second {
		t.Fatalf("calendar fetch timeout = %v, want 15s", e.client.Timeout)
	}
}

func TestParseICal(t *testing.T) {
	events := parseICal(sampleICal)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (the one without DTSTART dropped)", len(events))
	}

	first := events[0]
	wantStart := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)
	if !first.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", first.Start, wantStart)
	}
	if first.Summary != "Team standup" {
		t.Errorf("summary = %q", first.Summary)
	}
	// Folded line unfolded, escaped comma restored.
	if first.Description != "Weekly sync, bring notes and questions" {
		t.Errorf("description = %q", first.Description)
	}

	second := events[1]
	if second.Start.Year() != 2026 || second.Start.Month() != 8 || second.Start.Day() != 26 {
		t.Errorf("date-only start = %v", second.Start)
	}
}

func TestEventsInWindow(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	events := []CalendarEvent{
		{Start: base.Add(-time.Hour), Summary: "past"},
		{Start: base.Add(10 * time.Minute), Summary: "soon"},
		{Start: base.Add(30 * time.Minute), Summary: "edge"},
		{Start: base.Add(45 * time.Minute), Summary: "beyond"},
	}

	got := eventsInWindow(events, base, base.Add(30*time.Minute))
	if len(got) != 2 {
		t.Fatalf("window = %d events, want 2", len(got))
	}
	if got[0].Summary != "soon" || got[1].Summary != "edge" {
		t.Errorf("window = %+v", got)
	}
}

func TestParseICalTimeFormats(t *testing.T) {
	tests := []struct {
		value string
		zero  bool
	}{
		{"20260825T140000Z", false},
		{"20260825T140000", false},
		{"20260825", false},
		{"garbage", true},
		{"", true},
	}
	for _, tt := range tests {
		got := parseICalTime(tt.value)
		if got.IsZero() != tt.zero {
			t.Errorf("parseICalTime(%q) = %v, zero = %v", tt.value, got, tt.zero)
		}
	}
}
