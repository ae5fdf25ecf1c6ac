// Package ingress implements the HTTP surface of spec.md §4.1/§6: decoding
// the two inbound chat-API shapes into a ParsedRequest, running the
// pipeline, dispatching to the chosen provider, mediating the response
// (buffered or streamed) back in the client's dialect, and writing the
// append-only routing-log entry the stats aggregator reads.
package ingress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/liekzejaws/clawd-throttle/internal/catalog"
	"github.com/liekzejaws/clawd-throttle/internal/dedup"
	"github.com/liekzejaws/clawd-throttle/internal/dispatcher"
	"github.com/liekzejaws/clawd-throttle/internal/metrics"
	"github.com/liekzejaws/clawd-throttle/internal/observability"
	"github.com/liekzejaws/clawd-throttle/internal/override"
	"github.com/liekzejaws/clawd-throttle/internal/pipeline"
	"github.com/liekzejaws/clawd-throttle/internal/provider"
	"github.com/liekzejaws/clawd-throttle/internal/ratelimit"
	"github.com/liekzejaws/clawd-throttle/internal/router"
	"github.com/liekzejaws/clawd-throttle/internal/routinglog"
	"github.com/liekzejaws/clawd-throttle/internal/session"
	"github.com/liekzejaws/clawd-throttle/internal/stats"
	"github.com/liekzejaws/clawd-throttle/internal/streaming"
	"github.com/liekzejaws/clawd-throttle/internal/tracing"
	"github.com/liekzejaws/clawd-throttle/pkg/errors"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

const maxBodyBytes = 10 << 20 // 10 MiB; generous for tool definitions/long contexts

// RoutingLog is the subset of *routinglog.Writer the handler needs.
type RoutingLog interface {
	Append(entry routinglog.Entry)
	Lookup(parentRequestID string) (modelID string, ok bool)
}

// Handler wires every request-path component into the HTTP surface.
type Handler struct {
	Pipeline   *pipeline.Pipeline
	Dispatcher *dispatcher.Dispatcher
	Providers  router.ConfiguredProviders
	Limiter    *ratelimit.Limiter
	Sessions   *session.Store
	RoutingLog RoutingLog
	Dedup      DedupStore
	Catalog    *catalog.Catalog
	Stats      *stats.Aggregator
	Mode       types.Mode
	Log        *observability.Logger
	Tracer     *tracing.Provider
	Throttle   *ClientThrottle
	StartedAt  time.Time
}

// Routes builds the mux exposing every endpoint named in spec.md §6. The
// anonymous client throttle wraps only the two inbound chat endpoints:
// /health and /stats are operational surfaces, not pipeline entry points.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	messages := http.HandlerFunc(h.handleMessages)
	chatCompletions := http.HandlerFunc(h.handleChatCompletions)
	if h.Throttle != nil {
		mux.Handle("POST /v1/messages", h.Throttle.Middleware(messages))
		mux.Handle("POST /v1/chat/completions", h.Throttle.Middleware(chatCompletions))
	} else {
		mux.Handle("POST /v1/messages", messages)
		mux.Handle("POST /v1/chat/completions", chatCompletions)
	}
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /stats", h.handleStats)
	return mux
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	req, err := decodeMessages(body)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	extractControlHeaders(r, req)
	h.handleRequest(w, r, req)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	req, err := decodeChatCompletions(body)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	extractControlHeaders(r, req)
	h.handleRequest(w, r, req)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.InvalidRequest("failed to read request body: " + err.Error())
	}
	return body, nil
}

// handleRequest runs the shared decision/dispatch/mediation path for both
// ingress shapes once the body has been decoded into a ParsedRequest.
func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request, req *types.ParsedRequest) {
	requestID := uuid.New().String()
	log := h.Log.With("request_id", requestID)

	ctx := r.Context()
	if h.Tracer != nil {
		var end func()
		ctx, end = h.startRequestSpan(ctx, r.URL.Path)
		defer end()
	}

	var dedupHandle *dedup.Handle
	if !req.Stream {
		var done bool
		dedupHandle, done = h.serveFromDedup(ctx, w, req, requestID, log)
		if done {
			return
		}
	}

	result, err := h.Pipeline.Decide(req, h.Mode, h.Providers, h.Limiter, override.ParentLookup(h.RoutingLog.Lookup))
	if err != nil {
		h.failSession(req)
		h.failDedup(dedupHandle, err)
		writeProxyError(w, err)
		return
	}

	metrics.RoutingDecisions.WithLabelValues(string(result.Decision.Tier), string(result.Decision.Mode), string(result.Decision.Override)).Inc()

	setThrottleHeaders(w, result.Decision, result.Classification, requestID)

	if req.Stream {
		h.dispatchStreaming(ctx, w, req, result, requestID, log)
		return
	}

	h.dispatchBuffered(ctx, w, req, result, requestID, log, dedupHandle)
}

// serveFromDedup replays a completed entry or blocks on an in-flight
// producer, returning (nil, true) if the response has already been
// written. Otherwise it returns the handle the caller must eventually
// Complete or Fail (nil if the lookup itself failed).
func (h *Handler) serveFromDedup(ctx context.Context, w http.ResponseWriter, req *types.ParsedRequest, requestID string, log *observability.Logger) (*dedup.Handle, bool) {
	key := dedup.Key(req)
	entry, hit, handle, err := h.Dedup.Lookup(ctx, key)
	if err != nil {
		log.Warn("dedup lookup failed, proceeding as fresh request", "error", err)
		return nil, false
	}
	if hit {
		metrics.DedupHits.WithLabelValues("completed").Inc()
		replayEntry(w, entry)
		h.logReplayDecision(requestID, req, entry)
		return nil, true
	}
	if handle != nil && !handle.IsProducer() {
		metrics.DedupHits.WithLabelValues("waiter").Inc()
		waited, err := handle.Await()
		if err != nil {
			// Producer failed: fall through and dispatch this request fresh.
			return nil, false
		}
		replayEntry(w, waited)
		h.logReplayDecision(requestID, req, waited)
		return nil, true
	}
	return handle, false
}

func replayEntry(w http.ResponseWriter, entry dedup.Entry) {
	for k, v := range entry.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Body)
}

func (h *Handler) failSession(req *types.ParsedRequest) {
	if req.SessionID != "" {
		h.Sessions.MarkFailed(req.SessionID)
	}
}

func (h *Handler) failDedup(handle *dedup.Handle, err error) {
	if handle != nil {
		h.Dedup.Fail(handle, err)
	}
}

// dispatchBuffered runs the non-streaming dispatch path: forward, encode in
// the client's dialect, cache for dedup replay, and log the decision.
func (h *Handler) dispatchBuffered(ctx context.Context, w http.ResponseWriter, req *types.ParsedRequest, result pipeline.Result, requestID string, log *observability.Logger, dedupHandle *dedup.Handle) {
	dispatchStart := time.Now()
	outcome, err := h.Dispatcher.Dispatch(ctx, req, result.Decision)
	latency := time.Since(dispatchStart)

	if err != nil {
		h.failSession(req)
		h.failDedup(dedupHandle, err)
		h.recordDispatchMetric(result.Decision, latency, "error")
		writeProxyError(w, err)
		return
	}
	h.recordDispatchMetric(result.Decision, latency, "ok")
	if outcome.Failover {
		metrics.Failovers.WithLabelValues(string(outcome.KeyType)).Inc()
	}

	body := encodeResponse(req.IngressFormat, outcome.Response, requestID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)

	cost := h.costFor(result.Decision.ModelID, outcome.Response.InputTokens, outcome.Response.OutputTokens)

	if dedupHandle != nil {
		entry := dedup.Entry{
			StatusCode:       http.StatusOK,
			Headers:          map[string]string{"Content-Type": "application/json"},
			Body:             body,
			Decision:         result.Decision,
			Composite:        result.Classification.Composite,
			Confidence:       result.Classification.Confidence,
			InputTokens:      outcome.Response.InputTokens,
			OutputTokens:     outcome.Response.OutputTokens,
			EstimatedCostUSD: cost,
		}
		if cerr := h.Dedup.Complete(ctx, dedupHandle, entry); cerr != nil {
			log.Warn("dedup complete failed", "error", cerr)
		}
	}

	h.appendRoutingLog(requestID, req, result.Decision, result.Classification.Composite, result.Classification.Confidence, outcome.Response.InputTokens, outcome.Response.OutputTokens, cost, latency.Milliseconds(), string(outcome.KeyType), outcome.Failover)
}

// dispatchStreaming runs the streaming dispatch path: open the upstream
// body, hand it to the Forwarder, and log whatever token usage the
// Forwarder managed to accumulate regardless of how the stream ended.
func (h *Handler) dispatchStreaming(ctx context.Context, w http.ResponseWriter, req *types.ParsedRequest, result pipeline.Result, requestID string, log *observability.Logger) {
	dispatchStart := time.Now()
	outcome, err := h.Dispatcher.DispatchStream(ctx, req, result.Decision)
	if err != nil {
		h.failSession(req)
		h.recordDispatchMetric(result.Decision, time.Since(dispatchStart), "error")
		writeProxyError(w, err)
		return
	}
	if outcome.Failover {
		metrics.Failovers.WithLabelValues(string(outcome.KeyType)).Inc()
	}

	forwarder, err := streaming.NewForwarder(streaming.ForwarderConfig{
		Upstream:       outcome.Body,
		Downstream:     w,
		ClientCtx:      ctx,
		UpstreamFamily: providerFamily(outcome.Provider),
		ClientFamily:   clientFamily(req.IngressFormat),
	})
	if err != nil {
		outcome.Body.Close()
		log.Error("forwarder construction failed", "error", err)
		writeProxyError(w, errors.Internal("streaming not supported by this response writer"))
		return
	}

	summary, streamErr := forwarder.Forward()
	latency := time.Since(dispatchStart)
	h.recordDispatchMetric(result.Decision, latency, outcomeLabel(streamErr))

	if streamErr != nil {
		h.failSession(req)
		log.Warn("stream ended with error", "error", streamErr)
	}

	h.logDecision(requestID, req, result, summary.InputTokens, summary.OutputTokens, latency.Milliseconds(), string(outcome.KeyType), outcome.Failover)
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (h *Handler) recordDispatchMetric(decision types.RoutingDecision, latency time.Duration, outcome string) {
	metrics.DispatchLatency.WithLabelValues(decision.Provider, decision.ModelID, outcome).Observe(latency.Seconds())
}

func (h *Handler) logDecision(requestID string, req *types.ParsedRequest, result pipeline.Result, inputTokens, outputTokens int, latencyMs int64, keyType string, failover bool) {
	cost := h.costFor(result.Decision.ModelID, inputTokens, outputTokens)
	h.appendRoutingLog(requestID, req, result.Decision, result.Classification.Composite, result.Classification.Confidence, inputTokens, outputTokens, cost, latencyMs, keyType, failover)
}

// logReplayDecision writes the routing-log entry for a request served
// entirely from the dedup cache (a completed-entry hit or a waiter that
// rode a producer's result). It carries the original decision's tier and
// model forward but records zero dispatcher latency and no key/failover
// metadata, so every byte-producing request still produces exactly one
// log entry per spec.md §4.9/§8.
func (h *Handler) logReplayDecision(requestID string, req *types.ParsedRequest, entry dedup.Entry) {
	h.appendRoutingLog(requestID, req, entry.Decision, entry.Composite, entry.Confidence, entry.InputTokens, entry.OutputTokens, entry.EstimatedCostUSD, 0, "", false)
}

func (h *Handler) costFor(modelID string, inputTokens, outputTokens int) float64 {
	if spec, ok := h.Catalog.Get(modelID); ok {
		return catalog.Cost(spec, inputTokens, outputTokens)
	}
	return 0
}

func (h *Handler) appendRoutingLog(requestID string, req *types.ParsedRequest, decision types.RoutingDecision, composite, confidence float64, inputTokens, outputTokens int, cost float64, latencyMs int64, keyType string, failover bool) {
	h.RoutingLog.Append(routinglog.Entry{
		RequestID:        requestID,
		Timestamp:        time.Now(),
		PromptHash:       dedup.Key(req),
		Composite:        composite,
		Confidence:       confidence,
		Tier:             decision.Tier,
		ModelID:          decision.ModelID,
		Provider:         decision.Provider,
		Mode:             decision.Mode,
		Override:         decision.Override,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		EstimatedCostUSD: cost,
		LatencyMs:        latencyMs,
		ParentRequestID:  req.ParentRequestID,
		ClientID:         req.ClientID,
		KeyType:          keyType,
		Failover:         failover,
	})
}

func (h *Handler) startRequestSpan(ctx context.Context, path string) (context.Context, func()) {
	newCtx, span := h.Tracer.StartRequestSpan(ctx, path)
	return newCtx, func() { span.End() }
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"mode":           h.Mode,
		"uptime_seconds": int(time.Since(h.StartedAt).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	since := time.Now().AddDate(0, 0, -days)

	agg, err := h.Stats.Aggregate(since)
	if err != nil {
		writeProxyError(w, errors.Internal(fmt.Sprintf("aggregate stats: %v", err)))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agg)
}

func providerFamily(tag string) streaming.Family {
	switch provider.Tag(tag) {
	case provider.TagAnthropic:
		return streaming.FamilyAnthropic
	case provider.TagGoogle:
		return streaming.FamilyGoogle
	default:
		return streaming.FamilyOpenAI
	}
}

func clientFamily(format types.IngressFormat) streaming.Family {
	if format == types.FormatAnthropic {
		return streaming.FamilyAnthropic
	}
	return streaming.FamilyOpenAI
}

func setThrottleHeaders(w http.ResponseWriter, decision types.RoutingDecision, classification types.ClassificationResult, requestID string) {
	w.Header().Set("X-Throttle-Model", decision.ModelID)
	w.Header().Set("X-Throttle-Tier", string(decision.Tier))
	w.Header().Set("X-Throttle-Score", fmt.Sprintf("%.3f", classification.Composite))
	w.Header().Set("X-Throttle-Confidence", fmt.Sprintf("%.3f", classification.Confidence))
	w.Header().Set("X-Throttle-Request-Id", requestID)
}

func writeProxyError(w http.ResponseWriter, err error) {
	pe, ok := err.(*errors.ProxyError)
	if !ok {
		pe = errors.Internal(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pe.HTTPStatusCode())
	body, _ := json.Marshal(pe.ToBody())
	w.Write(body)
}
