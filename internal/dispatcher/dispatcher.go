// Package dispatcher sends the routed request to its chosen provider,
// handling Anthropic's dual-key failover and mapping upstream HTTP
// failures onto the typed ProxyError taxonomy. Streaming responses are
// handed off to internal/streaming once the upstream connection opens;
// this package only owns the request/response round trip and the
// failover decision that precedes it.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/liekzejaws/clawd-throttle/internal/observability"
	"github.com/liekzejaws/clawd-throttle/internal/provider"
	"github.com/liekzejaws/clawd-throttle/internal/ratelimit"
	"github.com/liekzejaws/clawd-throttle/pkg/errors"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// Registry resolves a provider tag to its adapter and binding.
type Registry interface {
	Adapter(tag provider.Tag) (provider.Adapter, bool)
	Binding(tag provider.Tag) (provider.Binding, bool)
}

// DualKeyStates resolves the Anthropic dual-key failover state per binding.
// In practice there is one state shared by all Anthropic requests.
type DualKeyStates interface {
	Anthropic() *ratelimit.DualKeyState
}

// Dispatcher owns the HTTP client used to reach upstream providers.
type Dispatcher struct {
	client   *http.Client
	registry Registry
	dualKey  DualKeyStates
	limiter  *ratelimit.Limiter
	log      *observability.Logger
}

func New(client *http.Client, registry Registry, dualKey DualKeyStates, limiter *ratelimit.Limiter, log *observability.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Dispatcher{client: client, registry: registry, dualKey: dualKey, limiter: limiter, log: log}
}

// Outcome is the result of one non-streaming dispatch.
type Outcome struct {
	Response *types.ProxyResponse
	KeyType  ratelimit.KeyType
	Failover bool
}

// Dispatch sends one non-streaming request to decision.Provider, applying
// Anthropic's dual-key failover when the primary key is exhausted or
// rejected, per spec.md §4.7.
func (d *Dispatcher) Dispatch(ctx context.Context, req *types.ParsedRequest, decision types.RoutingDecision) (Outcome, error) {
	tag := provider.Tag(decision.Provider)
	adapter, ok := d.registry.Adapter(tag)
	if !ok {
		return Outcome{}, errors.Internal(fmt.Sprintf("no adapter registered for provider %q", tag))
	}
	binding, ok := d.registry.Binding(tag)
	if !ok {
		return Outcome{}, errors.Internal(fmt.Sprintf("no binding configured for provider %q", tag))
	}

	if !tag.IsAnthropicFamily() {
		resp, err := d.attempt(ctx, string(tag), adapter, provider.DispatchRequest{Parsed: req, ModelID: decision.ModelID, Binding: binding})
		if err != nil {
			if pe, ok := err.(*errors.ProxyError); ok && pe.Kind == errors.KindUpstreamRateLimit {
				d.limiter.MarkRateLimited(decision.ModelID, 0)
			}
			return Outcome{}, err
		}
		return Outcome{Response: resp}, nil
	}

	return d.dispatchAnthropic(ctx, string(tag), adapter, req, decision, binding)
}

func (d *Dispatcher) dispatchAnthropic(ctx context.Context, providerTag string, adapter provider.Adapter, req *types.ParsedRequest, decision types.RoutingDecision, binding provider.Binding) (Outcome, error) {
	state := d.dualKey.Anthropic()
	selection, ok := state.Select()
	if !ok {
		return Outcome{}, errors.NoAvailableModel("no anthropic credentials configured")
	}

	primaryBinding := bindingForKeyType(binding, selection.Primary)
	resp, err := d.attempt(ctx, providerTag, adapter, provider.DispatchRequest{Parsed: req, ModelID: decision.ModelID, Binding: primaryBinding})
	if err == nil {
		return Outcome{Response: resp, KeyType: selection.Primary}, nil
	}

	pe, isProxyErr := err.(*errors.ProxyError)
	retryable := isProxyErr && (pe.Kind == errors.KindUpstreamRateLimit || pe.Kind == errors.KindUpstreamAuthFailed)
	if !retryable || !selection.HasFallback {
		return Outcome{}, err
	}

	d.log.Warn("anthropic primary key exhausted, failing over", "keyType", selection.Primary, "fallback", selection.Fallback)
	state.MarkCooling(selection.Primary)

	fallbackBinding := bindingForKeyType(binding, selection.Fallback)
	resp, err = d.attempt(ctx, providerTag, adapter, provider.DispatchRequest{Parsed: req, ModelID: decision.ModelID, Binding: fallbackBinding})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Response: resp, KeyType: selection.Fallback, Failover: true}, nil
}

// bindingForKeyType swaps the credential presented to the adapter based on
// which of the two Anthropic keys was selected, keeping baseUrl/authType.
// b.APIKey is the enterprise credential and b.SetupToken is the
// setup-token credential (the same convention cmd/throttle/main.go uses to
// derive hasSetupToken/hasEnterprise), so only the setup-token selection
// needs to overwrite APIKey before the adapter reads it.
func bindingForKeyType(b provider.Binding, kt ratelimit.KeyType) provider.Binding {
	if kt == ratelimit.KeyTypeSetupToken {
		b.APIKey = b.SetupToken
	}
	return b
}

// StreamOutcome is the result of one streaming dispatch: an open upstream
// body ready to be handed to internal/streaming.Forwarder, plus the same
// failover metadata Outcome carries for non-streaming dispatch.
type StreamOutcome struct {
	Body     io.ReadCloser
	Provider string
	KeyType  ratelimit.KeyType
	Failover bool
}

// DispatchStream mirrors Dispatch but leaves the upstream response body
// open for the caller to stream, rather than buffering and parsing it.
// Anthropic dual-key failover only applies before any bytes have been
// read from the upstream, so it is safe to retry exactly as Dispatch does.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *types.ParsedRequest, decision types.RoutingDecision) (StreamOutcome, error) {
	tag := provider.Tag(decision.Provider)
	adapter, ok := d.registry.Adapter(tag)
	if !ok {
		return StreamOutcome{}, errors.Internal(fmt.Sprintf("no adapter registered for provider %q", tag))
	}
	binding, ok := d.registry.Binding(tag)
	if !ok {
		return StreamOutcome{}, errors.Internal(fmt.Sprintf("no binding configured for provider %q", tag))
	}

	if !tag.IsAnthropicFamily() {
		body, err := d.attemptStream(ctx, string(tag), adapter, provider.DispatchRequest{Parsed: req, ModelID: decision.ModelID, Binding: binding})
		if err != nil {
			if pe, ok := err.(*errors.ProxyError); ok && pe.Kind == errors.KindUpstreamRateLimit {
				d.limiter.MarkRateLimited(decision.ModelID, 0)
			}
			return StreamOutcome{}, err
		}
		return StreamOutcome{Body: body, Provider: string(tag)}, nil
	}

	state := d.dualKey.Anthropic()
	selection, ok := state.Select()
	if !ok {
		return StreamOutcome{}, errors.NoAvailableModel("no anthropic credentials configured")
	}

	primaryBinding := bindingForKeyType(binding, selection.Primary)
	body, err := d.attemptStream(ctx, string(tag), adapter, provider.DispatchRequest{Parsed: req, ModelID: decision.ModelID, Binding: primaryBinding})
	if err == nil {
		return StreamOutcome{Body: body, Provider: string(tag), KeyType: selection.Primary}, nil
	}

	pe, isProxyErr := err.(*errors.ProxyError)
	retryable := isProxyErr && (pe.Kind == errors.KindUpstreamRateLimit || pe.Kind == errors.KindUpstreamAuthFailed)
	if !retryable || !selection.HasFallback {
		return StreamOutcome{}, err
	}

	d.log.Warn("anthropic primary key exhausted, failing over", "keyType", selection.Primary, "fallback", selection.Fallback)
	state.MarkCooling(selection.Primary)

	fallbackBinding := bindingForKeyType(binding, selection.Fallback)
	body, err = d.attemptStream(ctx, string(tag), adapter, provider.DispatchRequest{Parsed: req, ModelID: decision.ModelID, Binding: fallbackBinding})
	if err != nil {
		return StreamOutcome{}, err
	}
	return StreamOutcome{Body: body, Provider: string(tag), KeyType: selection.Fallback, Failover: true}, nil
}

// attemptStream issues the upstream request with stream=true and returns
// its body unread on success. On a non-2xx status it drains and closes
// the body itself before returning the mapped error.
func (d *Dispatcher) attemptStream(ctx context.Context, providerTag string, adapter provider.Adapter, dr provider.DispatchRequest) (io.ReadCloser, error) {
	httpReq, err := adapter.BuildRequest(ctx, dr, true)
	if err != nil {
		return nil, errors.Internal(fmt.Sprintf("build upstream request: %v", err))
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, errors.UpstreamError(providerTag, 0, err.Error())
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, mapStatus(providerTag, httpResp.StatusCode, body)
	}

	return httpResp.Body, nil
}

func (d *Dispatcher) attempt(ctx context.Context, providerTag string, adapter provider.Adapter, dr provider.DispatchRequest) (*types.ProxyResponse, error) {
	httpReq, err := adapter.BuildRequest(ctx, dr, false)
	if err != nil {
		return nil, errors.Internal(fmt.Sprintf("build upstream request: %v", err))
	}

	start := time.Now()
	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, errors.UpstreamError(providerTag, 0, err.Error())
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.UpstreamError(providerTag, httpResp.StatusCode, err.Error())
	}

	if proxyErr := mapStatus(providerTag, httpResp.StatusCode, body); proxyErr != nil {
		return nil, proxyErr
	}

	resp, err := adapter.ParseResponse(body)
	if err != nil {
		return nil, errors.Internal(fmt.Sprintf("parse upstream response: %v", err))
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

func mapStatus(providerTag string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errors.UpstreamRateLimited(providerTag, string(body))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.UpstreamAuthFailed(providerTag, string(body))
	default:
		return errors.UpstreamError(providerTag, status, string(body))
	}
}
