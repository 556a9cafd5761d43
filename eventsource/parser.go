package eventsource

import (
	"strconv"
	"strings"
	"time"
)

// Event is one dispatched Server-Sent Event. Immutable once parsed.
type Event struct {
	// Name is the event type. Streams that name no type dispatch as "message".
	Name string
	// Data is the event payload. Multi-line data fields are joined with \n.
	Data []byte
	// ID is the last event id seen at dispatch time, empty when none was set.
	ID string
}

// parser accumulates SSE wire-format lines into events. One parser instance
// covers one connection attempt; the last event id is seeded across attempts
// by the reader.
type parser struct {
	name    string
	data    strings.Builder
	hasData bool

	lastID string

	retry    time.Duration
	hasRetry bool
}

// feed processes one line (without its trailing newline) and reports a
// dispatched event when the line completes one.
func (p *parser) feed(line string) (Event, bool) {
	if line == "" {
		return p.dispatch()
	}

	if strings.HasPrefix(line, ":") {
		// Comment line. Servers use these as keep-alives.
		return Event{}, false
	}

	field, value, hasColon := strings.Cut(line, ":")
	if hasColon {
		// A single leading space in the value is part of the separator.
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		p.name = value
	case "data":
		if p.hasData {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(value)
		p.hasData = true
	case "id":
		// Ids containing NUL are ignored per the SSE processing model.
		if !strings.ContainsRune(value, 0) {
			p.lastID = value
		}
	case "retry":
		if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
			p.retry = time.Duration(ms) * time.Millisecond
			p.hasRetry = true
		}
	}

	return Event{}, false
}

// dispatch flushes the accumulated event on a blank line. Events without any
// data are dropped; the type buffer still resets.
func (p *parser) dispatch() (Event, bool) {
	name := p.name
	hadData := p.hasData
	data := p.data.String()

	p.name = ""
	p.data.Reset()
	p.hasData = false

	if !hadData {
		return Event{}, false
	}
	if name == "" {
		name = "message"
	}

	return Event{Name: name, Data: []byte(data), ID: p.lastID}, true
}

// retryHint returns the most recent retry field value, if any, and clears it.
func (p *parser) retryHint() (time.Duration, bool) {
	if !p.hasRetry {
		return 0, false
	}
	d := p.retry
	p.hasRetry = false
	return d, true
}
