package triggers

import (
	"bufio"
	"strings"
	"time"
)

// CalendarEvent is one VEVENT extracted from an iCal feed.
type CalendarEvent struct {
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
}

// parseICal extracts VEVENT blocks with a minimal line-oriented reader:
// folded lines are unfolded, only DTSTART/DTEND/SUMMARY/DESCRIPTION are
// kept, everything else is ignored. Events without a parsable DTSTART
// are dropped.
func parseICal(data string) []CalendarEvent {
	var events []CalendarEvent
	var cur *CalendarEvent

	for _, line := range unfoldICalLines(data) {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &CalendarEvent{}
		case line == "END:VEVENT":
			if cur != nil && !cur.Start.IsZero() {
				events = append(events, *cur)
			}
			cur = nil
		case cur == nil:
			continue
		default:
			name, value, ok := splitICalProperty(line)
			if !ok {
				continue
			}
			switch name {
			case "DTSTART":
				cur.Start = parseICalTime(value)
			case "DTEND":
				cur.End = parseICalTime(value)
			case "SUMMARY":
				cur.Summary = unescapeICal(value)
			case "DESCRIPTION":
				cur.Description = unescapeICal(value)
			}
		}
	}
	return events
}

// unfoldICalLines joins continuation lines (leading space or tab) onto
// their predecessor per RFC 5545 folding.
func unfoldICalLines(data string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// splitICalProperty separates "NAME;PARAM=x:VALUE" into name and value,
// discarding parameters.
func splitICalProperty(line string) (name, value string, ok bool) {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return "", "", false
	}
	name = line[:colon]
	value = line[colon+1:]
	if semi := strings.Index(name, ";"); semi >= 0 {
		name = name[:semi]
	}
	return strings.ToUpper(name), value, true
}

// icalTimeLayouts cover UTC, floating local, and date-only values.
var icalTimeLayouts = []struct {
	layout string
	utc    bool
}{
	{"20060102T150405Z", true},
	{"20060102T150405", false},
	{"20060102", false},
}

func parseICalTime(value string) time.Time {
	for _, l := range icalTimeLayouts {
		loc := time.Local
		if l.utc {
			loc = time.UTC
		}
		if ts, err := time.ParseInLocation(l.layout, value, loc); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func unescapeICal(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}

// eventsInWindow filters events whose start falls after `from` and at
// or before `until`. Used to emit only upcoming events once.
func eventsInWindow(events []CalendarEvent, from, until time.Time) []CalendarEvent {
	var out []CalendarEvent
	for _, ev := range events {
		if ev.Start.After(from) && !ev.Start.After(until) {
			out = append(out, ev)
		}
	}
	return out
}
