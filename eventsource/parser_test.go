package eventsource

import (
	"testing"
	"time"
)

func feedLines(t *testing.T, p *parser, lines ...string) []Event {
	t.Helper()
	var evs []Event
	for _, line := range lines {
		if ev, ok := p.feed(line); ok {
			evs = append(evs, ev)
		}
	}
	return evs
}

func TestParserJoinsMultiLineData(t *testing.T) {
	p := &parser{}
	evs := feedLines(t, p, "data: line one", "data: line two", "")

	if want, got := 1, len(evs); want != got {
		t.Fatalf("unexpected event count: want %d got %d", want, got)
	}
	if want, got := "message", evs[0].Name; want != got {
		t.Fatalf("unexpected event name: want %q got %q", want, got)
	}
	if want, got := "line one\nline two", string(evs[0].Data); want != got {
		t.Fatalf("unexpected data: want %q got %q", want, got)
	}
}

func TestParserStripsOneLeadingSpace(t *testing.T) {
	p := &parser{}
	evs := feedLines(t, p, "data:  padded", "", "data:tight", "")

	if want, got := 2, len(evs); want != got {
		t.Fatalf("unexpected event count: want %d got %d", want, got)
	}
	if want, got := " padded", string(evs[0].Data); want != got {
		t.Fatalf("unexpected data: want %q got %q", want, got)
	}
	if want, got := "tight", string(evs[1].Data); want != got {
		t.Fatalf("unexpected data: want %q got %q", want, got)
	}
}

func TestParserIgnoresComments(t *testing.T) {
	p := &parser{}
	evs := feedLines(t, p, ": keep-alive", "", "data: payload", ": mid-event comment", "")

	if want, got := 1, len(evs); want != got {
		t.Fatalf("unexpected event count: want %d got %d", want, got)
	}
	if want, got := "payload", string(evs[0].Data); want != got {
		t.Fatalf("unexpected data: want %q got %q", want, got)
	}
}

func TestParserResetsNameBetweenEvents(t *testing.T) {
	p := &parser{}
	evs := feedLines(t, p,
		"event: endpoint",
		"data: /messages/?session_id=1",
		"",
		"data: hello",
		"",
	)

	if want, got := 2, len(evs); want != got {
		t.Fatalf("unexpected event count: want %d got %d", want, got)
	}
	if want, got := "endpoint", evs[0].Name; want != got {
		t.Fatalf("unexpected first name: want %q got %q", want, got)
	}
	if want, got := "message", evs[1].Name; want != got {
		t.Fatalf("unexpected second name: want %q got %q", want, got)
	}
}

func TestParserDropsEventsWithoutData(t *testing.T) {
	p := &parser{}
	evs := feedLines(t, p, "event: ping", "", "", "data: real", "")

	if want, got := 1, len(evs); want != got {
		t.Fatalf("unexpected event count: want %d got %d", want, got)
	}
	if want, got := "real", string(evs[0].Data); want != got {
		t.Fatalf("unexpected data: want %q got %q", want, got)
	}
}

func TestParserTracksLastEventID(t *testing.T) {
	p := &parser{}
	evs := feedLines(t, p,
		"id: 41",
		"data: first",
		"",
		"data: second",
		"",
		"id: bad\x00id",
		"data: third",
		"",
	)

	if want, got := 3, len(evs); want != got {
		t.Fatalf("unexpected event count: want %d got %d", want, got)
	}
	for i, ev := range evs {
		if want, got := "41", ev.ID; want != got {
			t.Fatalf("event %d: unexpected id: want %q got %q", i, want, got)
		}
	}

	// An explicit empty id resets the field.
	evs = feedLines(t, p, "id:", "data: fourth", "")
	if want, got := "", evs[0].ID; want != got {
		t.Fatalf("unexpected id after reset: want %q got %q", want, got)
	}
}

func TestParserRetryHint(t *testing.T) {
	p := &parser{}
	feedLines(t, p, "retry: 1500")

	hint, ok := p.retryHint()
	if !ok {
		t.Fatal("expected a retry hint")
	}
	if want, got := 1500*time.Millisecond, hint; want != got {
		t.Fatalf("unexpected hint: want %s got %s", want, got)
	}
	if _, ok := p.retryHint(); ok {
		t.Fatal("expected hint to be consumed")
	}

	feedLines(t, p, "retry: not-a-number")
	if _, ok := p.retryHint(); ok {
		t.Fatal("expected malformed hint to be ignored")
	}
}
