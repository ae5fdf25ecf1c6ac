package streaming

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBufferSize bounds the incremental SSE reader's line buffer.
const DefaultBufferSize = 4096

// HeartbeatInterval is how often an SSE comment heartbeat is emitted
// before the first upstream byte arrives, per spec.md §4.8.
const HeartbeatInterval = 2 * time.Second

// Summary is what the dispatcher/ingress layer needs once a stream ends,
// to write the routing log entry and estimate cost.
type Summary struct {
	InputTokens  int
	OutputTokens int
	FinishReason string
	Model        string
}

// ForwarderConfig configures one streaming relay.
type ForwarderConfig struct {
	Upstream       io.ReadCloser
	Downstream     http.ResponseWriter
	ClientCtx      context.Context
	UpstreamFamily Family
	ClientFamily   Family
}

// Forwarder relays one upstream SSE stream to the client, translating
// between dialects when UpstreamFamily != ClientFamily and passing bytes
// through verbatim when they match (spec.md's testable byte-identity
// property for same-family streaming).
type Forwarder struct {
	upstream   io.ReadCloser
	downstream http.ResponseWriter
	flusher    http.Flusher
	ctx        context.Context
	cancel     context.CancelFunc

	source     Source
	renderer   Renderer
	sameFamily bool
}

// NewForwarder constructs a Forwarder. Downstream must implement
// http.Flusher; net/http's ResponseWriter does whenever the underlying
// transport supports streaming.
func NewForwarder(cfg ForwarderConfig) (*Forwarder, error) {
	flusher, ok := cfg.Downstream.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	ctx, cancel := context.WithCancel(cfg.ClientCtx)

	same := cfg.UpstreamFamily == cfg.ClientFamily
	var renderer Renderer
	if !same {
		renderer = NewRenderer(cfg.ClientFamily)
	}

	return &Forwarder{
		upstream:   cfg.Upstream,
		downstream: cfg.Downstream,
		flusher:    flusher,
		ctx:        ctx,
		cancel:     cancel,
		source:     NewSource(cfg.UpstreamFamily),
		renderer:   renderer,
		sameFamily: same,
	}, nil
}

type scanResult struct {
	ev  *rawEvent
	err error
}

// Forward streams until the upstream closes, errors, or the client
// disconnects. It always returns the best-effort Summary accumulated so
// far, even on error, so the caller can still write a routing-log entry.
func (f *Forwarder) Forward() (Summary, error) {
	defer f.upstream.Close()

	f.downstream.Header().Set("Content-Type", "text/event-stream")
	f.downstream.Header().Set("Cache-Control", "no-cache")
	f.downstream.Header().Set("Connection", "keep-alive")
	f.downstream.Header().Set("X-Accel-Buffering", "no")

	scanner := newEventScanner(f.upstream)
	ch := make(chan scanResult, 1)
	go func() {
		for {
			ev, err := scanner.Next()
			ch <- scanResult{ev: ev, err: err}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	var summary Summary
	firstByte := false

	for {
		select {
		case <-f.ctx.Done():
			return summary, f.ctx.Err()

		case <-ticker.C:
			if firstByte {
				continue
			}
			f.downstream.Write([]byte(": heartbeat\n\n"))
			f.flusher.Flush()

		case res := <-ch:
			firstByte = true
			if res.err != nil {
				if res.err == io.EOF {
					f.flushTail(&summary)
					return summary, nil
				}
				return summary, res.err
			}

			done := f.processEvent(res.ev, &summary)
			f.flusher.Flush()
			if done {
				return summary, nil
			}
		}
	}
}

func (f *Forwarder) processEvent(ev *rawEvent, summary *Summary) (done bool) {
	neutral, ok := f.source.Parse(ev)
	if ok {
		mergeSummary(summary, neutral)
	}

	if f.sameFamily {
		f.downstream.Write(ev.Raw)
	} else if ok {
		f.downstream.Write(f.renderer.Render(neutral))
	}

	return ok && neutral.Done
}

// flushTail emits the target dialect's epilogue if the upstream closed
// without its own terminal event (e.g. Google never sends an explicit
// end-of-stream marker; this proxy closes the client stream once reads
// stop yielding bytes).
func (f *Forwarder) flushTail(summary *Summary) {
	if f.sameFamily || f.renderer == nil {
		return
	}
	f.downstream.Write(f.renderer.RenderDone())
	f.flusher.Flush()
}

func mergeSummary(s *Summary, ev Event) {
	if ev.HasUsage {
		s.InputTokens = ev.InputTokens
		s.OutputTokens = ev.OutputTokens
	}
	if ev.FinishReason != "" {
		s.FinishReason = ev.FinishReason
	}
	if ev.Model != "" {
		s.Model = ev.Model
	}
}

// Close cancels in-flight forwarding and releases the upstream connection.
func (f *Forwarder) Close() {
	f.cancel()
	f.upstream.Close()
}
