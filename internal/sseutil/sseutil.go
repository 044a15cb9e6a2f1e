// Package sseutil provides shared SSE and NDJSON framing utilities for
// the stream codecs: scanning a raw vendor stream into discrete frames
// and building wire frames from encoded payloads.
package sseutil

import (
	"bufio"
	"bytes"
	"io"
)

// Pre-allocated byte slices for zero-copy comparisons.
var (
	doneMarker  = []byte("[DONE]")
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
)

const (
	initialBufSize = 64 * 1024

	// DefaultMaxFrameSize bounds one SSE data line or NDJSON record.
	DefaultMaxFrameSize = 1 << 20
)

// Event is one parsed SSE event: the optional event name and the data
// payload, with multi-line data joined by newlines. Done is set when
// the data was the [DONE] terminal marker.
type Event struct {
	Name string
	Data []byte
	Done bool
}

// Scanner incrementally parses an SSE byte stream into events.
// Single-pass; not safe for concurrent use.
type Scanner struct {
	sc      *bufio.Scanner
	pending *Event
	err     error
}

// NewScanner wraps r with a frame scanner. maxFrame <= 0 applies
// DefaultMaxFrameSize.
func NewScanner(r io.Reader, maxFrame int) *Scanner {
	return &Scanner{sc: newFrameScanner(r, maxFrame)}
}

// newFrameScanner builds a bufio.Scanner whose token limit is exactly
// maxFrame. The initial buffer stays below the limit because the
// scanner takes the larger of the two as its cap.
func newFrameScanner(r io.Reader, maxFrame int) *bufio.Scanner {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	initial := initialBufSize
	if initial > maxFrame {
		initial = maxFrame
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initial), maxFrame)
	return sc
}

// Next returns the next event, or io.EOF once the stream is exhausted.
func (s *Scanner) Next() (*Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	ev := s.pending
	s.pending = nil
	for s.sc.Scan() {
		line := bytes.TrimRight(s.sc.Bytes(), "\r")
		if len(line) == 0 {
			if ev != nil {
				return ev, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		if bytes.HasPrefix(line, eventPrefix) {
			if ev == nil {
				ev = &Event{}
			}
			ev.Name = string(bytes.TrimSpace(line[len(eventPrefix):]))
			continue
		}
		data := line
		if bytes.HasPrefix(line, dataPrefix) {
			data = bytes.TrimSpace(line[len(dataPrefix):])
		}
		if ev == nil {
			ev = &Event{}
		}
		if bytes.Equal(data, doneMarker) {
			ev.Done = true
			continue
		}
		if len(ev.Data) > 0 {
			ev.Data = append(ev.Data, '\n')
		}
		ev.Data = append(ev.Data, data...)
	}
	if err := s.sc.Err(); err != nil {
		s.err = err
		return nil, err
	}
	s.err = io.EOF
	if ev != nil {
		return ev, nil
	}
	return nil, io.EOF
}

// NewLineScanner returns a scanner over newline-delimited records with
// stream-sized buffers, for NDJSON framings.
func NewLineScanner(r io.Reader, maxFrame int) *bufio.Scanner {
	return newFrameScanner(r, maxFrame)
}

// JSONPayload extracts the JSON payload from a single raw SSE line.
// Returns nil for blank lines, comments, event: lines, and non-JSON
// content; done reports the [DONE] terminal marker.
func JSONPayload(line []byte) (payload []byte, done bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == ':' {
		return nil, false
	}
	if bytes.HasPrefix(trimmed, eventPrefix) {
		return nil, false
	}
	if bytes.HasPrefix(trimmed, dataPrefix) {
		trimmed = bytes.TrimSpace(trimmed[len(dataPrefix):])
	}
	if bytes.Equal(trimmed, doneMarker) {
		return nil, true
	}
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, false
	}
	return trimmed, false
}

// DataFrame renders "data: <json>\n\n".
func DataFrame(jsonData []byte) []byte {
	size := 6 + len(jsonData) + 2
	buf := make([]byte, 0, size)
	buf = append(buf, "data: "...)
	buf = append(buf, jsonData...)
	buf = append(buf, "\n\n"...)
	return buf
}

// EventFrame renders "event: <name>\ndata: <json>\n\n".
func EventFrame(eventType string, jsonData []byte) []byte {
	size := 7 + len(eventType) + 7 + len(jsonData) + 2
	buf := make([]byte, 0, size)
	buf = append(buf, "event: "...)
	buf = append(buf, eventType...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, jsonData...)
	buf = append(buf, "\n\n"...)
	return buf
}

// DoneFrame renders the OpenAI terminal marker frame.
func DoneFrame() []byte {
	return []byte("data: [DONE]\n\n")
}

// NDJSONFrame renders one newline-terminated JSON record.
func NDJSONFrame(jsonData []byte) []byte {
	buf := make([]byte, 0, len(jsonData)+1)
	buf = append(buf, jsonData...)
	buf = append(buf, '\n')
	return buf
}
