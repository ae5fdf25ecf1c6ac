package provider

import (
	"context"
	"net/http"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// DispatchRequest carries everything an Adapter needs to build one
// upstream HTTP request: the neutral request, the chosen model id, and
// the resolved credential/baseURL binding.
type DispatchRequest struct {
	Parsed  *types.ParsedRequest
	ModelID string
	Binding Binding
}

// Adapter builds provider-native requests from a NeutralMessage sequence
// and parses provider-native non-streaming responses back into a
// ProxyResponse. Streaming responses are handled by the internal/streaming
// package's per-family SSE parsers, not here.
type Adapter interface {
	// BuildRequest constructs the outbound HTTP request for dr. stream
	// controls whether the upstream is asked to stream its response.
	BuildRequest(ctx context.Context, dr DispatchRequest, stream bool) (*http.Request, error)

	// ParseResponse decodes a non-streaming upstream response body into a
	// neutral ProxyResponse.
	ParseResponse(body []byte) (*types.ProxyResponse, error)
}
