package ingress

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liekzejaws/clawd-throttle/pkg/errors"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

func TestDecodeMessages_Basic(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet","system":"be terse","max_tokens":256,"messages":[{"role":"user","content":"hi"}]}`)

	req, err := decodeMessages(body)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.System)
	assert.Equal(t, 256, req.MaxTokens)
	assert.Equal(t, types.FormatAnthropic, req.IngressFormat)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, types.RoleUser, req.Messages[0].Role)
	assert.Equal(t, body, req.RawBody)
}

func TestDecodeMessages_RejectsUnsupportedRole(t *testing.T) {
	body := []byte(`{"messages":[{"role":"function","content":"x"}]}`)

	_, err := decodeMessages(body)
	require.Error(t, err)
	pe, ok := err.(*errors.ProxyError)
	require.True(t, ok)
	assert.Equal(t, errors.KindInvalidRequest, pe.Kind)
}

func TestDecodeMessages_RejectsEmptyMessages(t *testing.T) {
	_, err := decodeMessages([]byte(`{"messages":[]}`))
	require.Error(t, err)
}

func TestDecodeMessages_DetectsToolContent(t *testing.T) {
	body := []byte(`{"messages":[{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"lookup","input":{}}]}]}`)

	req, err := decodeMessages(body)
	require.NoError(t, err)
	assert.True(t, req.HasTools)
}

func TestDecodeChatCompletions_FoldsSystemMessages(t *testing.T) {
	body := []byte(`{"messages":[{"role":"system","content":"rule one"},{"role":"system","content":"rule two"},{"role":"user","content":"hi"}]}`)

	req, err := decodeChatCompletions(body)
	require.NoError(t, err)
	assert.Equal(t, "rule one\nrule two", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, types.RoleUser, req.Messages[0].Role)
	assert.Equal(t, types.FormatOpenAI, req.IngressFormat)
}

func TestDecodeChatCompletions_RejectsAllSystemNoTurns(t *testing.T) {
	body := []byte(`{"messages":[{"role":"system","content":"only a rule"}]}`)

	_, err := decodeChatCompletions(body)
	require.Error(t, err)
}

func TestDecodeChatCompletions_RejectsUnsupportedRole(t *testing.T) {
	body := []byte(`{"messages":[{"role":"tool","content":"x"}]}`)

	_, err := decodeChatCompletions(body)
	require.Error(t, err)
}

func TestExtractControlHeaders_CopiesHeadersAndProbesTools(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	r.Header.Set("X-Throttle-Force-Model", "opus")
	r.Header.Set("X-Session-ID", "sess-1")
	r.Header.Set("X-Client-ID", "client-1")
	r.Header.Set("X-Throttle-Parent-Request-Id", "parent-1")
	r.Header.Set("anthropic-version", "2023-06-01")
	r.Header.Set("anthropic-beta", "tools-2024-04-04")

	req := &types.ParsedRequest{RawBody: []byte(`{"tools":[{"name":"lookup"}]}`)}
	extractControlHeaders(r, req)

	assert.Equal(t, "opus", req.ForceModelHeader)
	assert.Equal(t, "sess-1", req.SessionID)
	assert.Equal(t, "client-1", req.ClientID)
	assert.Equal(t, "parent-1", req.ParentRequestID)
	assert.Equal(t, "2023-06-01", req.AnthropicVersion)
	assert.Equal(t, "tools-2024-04-04", req.AnthropicBeta)
	assert.True(t, req.HasTools)
}

func TestExtractControlHeaders_NoToolsNoRawBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req := &types.ParsedRequest{}
	extractControlHeaders(r, req)
	assert.False(t, req.HasTools)
}
