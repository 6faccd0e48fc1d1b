package ai

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func readAllEvents(t *testing.T, raw string) []sseEvent {
	t.Helper()
	dec := newSSEReader(strings.NewReader(raw))
	var out []sseEvent
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev)
	}
}

func TestSSEReaderBasicEvents(t *testing.T) {
	events := readAllEvents(t, "data: one\n\ndata: two\n\n")
	if len(events) != 2 || string(events[0].data) != "one" || string(events[1].data) != "two" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSSEReaderEventNames(t *testing.T) {
	events := readAllEvents(t, "event: message_start\ndata: {}\n\nevent: message_stop\ndata: {}\n\n")
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
	if events[0].name != "message_start" || events[1].name != "message_stop" {
		t.Fatalf("unexpected names: %q, %q", events[0].name, events[1].name)
	}
}

func TestSSEReaderJoinsMultilineData(t *testing.T) {
	events := readAllEvents(t, "data: first\ndata: second\n\n")
	if len(events) != 1 || string(events[0].data) != "first\nsecond" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSSEReaderSkipsCommentsAndHandlesCRLF(t *testing.T) {
	events := readAllEvents(t, ": keepalive\r\ndata: hello\r\n\r\n")
	if len(events) != 1 || string(events[0].data) != "hello" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSSEReaderFlushesFinalEventWithoutBlankLine(t *testing.T) {
	// Some backends close the connection right after the last data line.
	events := readAllEvents(t, "data: tail")
	if len(events) != 1 || string(events[0].data) != "tail" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
