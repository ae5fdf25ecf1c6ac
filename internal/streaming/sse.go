// Package streaming implements the incremental SSE parser, the three
// upstream chunk dialects (Anthropic, Google, OpenAI-compatible), and the
// cross-family translators that let a client streaming in one dialect
// receive an upstream answering in another, grounded on the teacher's
// internal/streaming/forwarder.go and parsers.go.
package streaming

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// SSEDataPrefix and SSEDone mirror the teacher's constants; every upstream
// dialect in this proxy's domain uses the same framing primitives even
// where the JSON payload they carry differs.
const (
	SSEDataPrefix = "data:"
	SSEDone       = "[DONE]"
)

// rawEvent is one parsed SSE event: an optional event name, the
// newline-joined data payload, and the exact bytes read for it (used for
// byte-faithful same-family passthrough).
type rawEvent struct {
	Name string
	Data string
	Raw  []byte
}

// eventScanner incrementally parses an SSE byte stream. State
// (currentEvent/currentData) persists across Next() calls exactly as it
// would across network reads, per spec.md §4.8.
type eventScanner struct {
	r            *bufio.Reader
	currentEvent strings.Builder
	currentData  []string
	rawBuf       bytes.Buffer
	done         bool
}

func newEventScanner(r io.Reader) *eventScanner {
	return &eventScanner{r: bufio.NewReaderSize(r, DefaultBufferSize)}
}

// Next returns the next complete SSE event, or io.EOF once the stream is
// exhausted (flushing any trailing event that had no final blank line).
func (s *eventScanner) Next() (*rawEvent, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		line, err := s.r.ReadString('\n')
		if len(line) > 0 {
			s.rawBuf.WriteString(line)
		}

		if err != nil {
			s.done = true
			ev := s.flush()
			if err == io.EOF && ev != nil {
				return ev, nil
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if ev := s.flush(); ev != nil {
				return ev, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "event:"):
			s.currentEvent.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "event:")))
		case strings.HasPrefix(trimmed, "data:"):
			s.currentData = append(s.currentData, strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
		default:
			// Comment line (":...") or unrecognized field; ignored per SSE spec.
		}
	}
}

// flush builds a rawEvent from accumulated state and resets it, or returns
// nil if nothing was accumulated (a bare blank line between events).
func (s *eventScanner) flush() *rawEvent {
	if s.currentEvent.Len() == 0 && len(s.currentData) == 0 {
		s.rawBuf.Reset()
		return nil
	}
	ev := &rawEvent{
		Name: s.currentEvent.String(),
		Data: strings.Join(s.currentData, "\n"),
		Raw:  append([]byte(nil), s.rawBuf.Bytes()...),
	}
	s.currentEvent.Reset()
	s.currentData = nil
	s.rawBuf.Reset()
	return ev
}
