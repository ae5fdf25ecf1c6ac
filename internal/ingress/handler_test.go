package ingress

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liekzejaws/clawd-throttle/internal/catalog"
	"github.com/liekzejaws/clawd-throttle/internal/classifier"
	"github.com/liekzejaws/clawd-throttle/internal/dedup"
	"github.com/liekzejaws/clawd-throttle/internal/dispatcher"
	"github.com/liekzejaws/clawd-throttle/internal/observability"
	"github.com/liekzejaws/clawd-throttle/internal/override"
	"github.com/liekzejaws/clawd-throttle/internal/pipeline"
	"github.com/liekzejaws/clawd-throttle/internal/provider"
	"github.com/liekzejaws/clawd-throttle/internal/provider/openaicompat"
	"github.com/liekzejaws/clawd-throttle/internal/ratelimit"
	"github.com/liekzejaws/clawd-throttle/internal/router"
	"github.com/liekzejaws/clawd-throttle/internal/routinglog"
	"github.com/liekzejaws/clawd-throttle/internal/routingtable"
	"github.com/liekzejaws/clawd-throttle/internal/session"
	"github.com/liekzejaws/clawd-throttle/internal/stats"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

type noFallbackDualKey struct{}

func (noFallbackDualKey) Anthropic() *ratelimit.DualKeyState { return ratelimit.NewDualKeyState(false, false, true) }

// testHarness wires a full, real Handler against a fake upstream server, the
// way dispatcher_test.go wires a real Dispatcher against one.
type testHarness struct {
	handler    *Handler
	upstream   *httptest.Server
	upstreamN  atomic.Int32
	log        *observability.Logger
	logWriter  *routinglog.Writer
	sessions   *session.Store
}

func newTestHarness(t *testing.T, upstreamBody string) *testHarness {
	t.Helper()

	h := &testHarness{}
	h.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.upstreamN.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(upstreamBody))
	}))
	t.Cleanup(h.upstream.Close)

	cat, err := catalog.New([]types.ModelSpec{
		{ID: "gpt-mini", DisplayName: "GPT Mini", Provider: string(provider.TagOpenAI), InputCostPerMTok: 1, OutputCostPerMTok: 2, MaxContextTokens: 128000},
	})
	require.NoError(t, err)

	table := routingtable.Table{
		types.ModeStandard: routingtable.Tiers{
			types.TierSimple:   {"gpt-mini"},
			types.TierStandard: {"gpt-mini"},
			types.TierComplex:  {"gpt-mini"},
		},
	}

	cls := classifier.New(classifier.DefaultWeights(), classifier.DefaultThresholds())
	h.log = observability.New(observability.Config{}, nil)
	detector := override.New(override.DefaultAliases(), cat.Hierarchy(), h.log)
	r := router.New(cat, table)
	h.sessions = session.New(time.Minute)
	t.Cleanup(h.sessions.Close)

	pl := pipeline.New(cls, detector, r, h.sessions, cat)

	registry := provider.NewRegistry(
		map[provider.Tag]provider.Binding{provider.TagOpenAI: {APIKey: "test-key", BaseURL: h.upstream.URL}},
		map[provider.Tag]provider.Adapter{provider.TagOpenAI: openaicompat.New(provider.TagOpenAI, nil)},
	)
	limiter := ratelimit.NewLimiter()
	disp := dispatcher.New(nil, registry, noFallbackDualKey{}, limiter, h.log)

	logPath := filepath.Join(t.TempDir(), "routing.log")
	writer, err := routinglog.Open(logPath, h.log)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })
	h.logWriter = writer

	dedupCache := dedup.New(time.Minute)

	agg := stats.New(writer, cat)

	h.handler = &Handler{
		Pipeline:   pl,
		Dispatcher: disp,
		Providers:  registry,
		Limiter:    limiter,
		Sessions:   h.sessions,
		RoutingLog: writer,
		Dedup:      NewMemDedupStore(dedupCache),
		Catalog:    cat,
		Stats:      agg,
		Mode:       types.ModeStandard,
		Log:        h.log,
		StartedAt:  time.Now(),
	}

	return h
}

const upstreamChatBody = `{"choices":[{"message":{"role":"assistant","content":"hello from upstream"},"finish_reason":"stop"}],"model":"gpt-mini","usage":{"prompt_tokens":4,"completion_tokens":6}}`

func TestHandler_ChatCompletions_NonStreamingRoundTrip(t *testing.T) {
	h := newTestHarness(t, upstreamChatBody)
	server := httptest.NewServer(h.handler.Routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"explain how garbage collection works"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Throttle-Request-Id"))
	assert.Equal(t, "gpt-mini", resp.Header.Get("X-Throttle-Model"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out openAIOutBody
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "hello from upstream", out.Choices[0].Message.Content)
	assert.Equal(t, int32(1), h.upstreamN.Load())
}

func TestHandler_ChatCompletions_DedupReplaysSecondIdenticalRequest(t *testing.T) {
	h := newTestHarness(t, upstreamChatBody)
	server := httptest.NewServer(h.handler.Routes())
	defer server.Close()

	const payload = `{"messages":[{"role":"user","content":"what is the capital of france"}]}`

	resp1, err := http.Post(server.URL+"/v1/chat/completions", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()

	resp2, err := http.Post(server.URL+"/v1/chat/completions", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()

	assert.Equal(t, int32(1), h.upstreamN.Load())
	assert.Equal(t, body1, body2)

	agg, err := h.handler.Stats.Aggregate(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalRequests, "replayed request must still produce its own routing-log entry")
}

func TestHandler_ChatCompletions_InvalidRoleReturns400(t *testing.T) {
	h := newTestHarness(t, upstreamChatBody)
	server := httptest.NewServer(h.handler.Routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages":[{"role":"tool","content":"x"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "invalid_request", errObj["type"])
	assert.Equal(t, int32(0), h.upstreamN.Load())
}

func TestHandler_Health(t *testing.T) {
	h := newTestHarness(t, upstreamChatBody)
	server := httptest.NewServer(h.handler.Routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "standard", body["mode"])
}

func TestHandler_Stats_ReflectsDispatchedRequest(t *testing.T) {
	h := newTestHarness(t, upstreamChatBody)
	server := httptest.NewServer(h.handler.Routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	resp.Body.Close()

	statsResp, err := http.Get(server.URL + "/stats?days=1")
	require.NoError(t, err)
	defer statsResp.Body.Close()

	var agg struct {
		TotalRequests int     `json:"totalRequests"`
		TotalCostUSD  float64 `json:"totalCostUsd"`
	}
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&agg))
	assert.Equal(t, 1, agg.TotalRequests)
	assert.Greater(t, agg.TotalCostUSD, 0.0)
}
