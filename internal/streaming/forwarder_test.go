package streaming

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadCloser struct {
	io.Reader
	closed bool
}

func (m *mockReadCloser) Close() error {
	m.closed = true
	return nil
}

func TestForward_SameFamilyAnthropicPassthrough(t *testing.T) {
	input := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet\",\"usage\":{\"input_tokens\":5}}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	upstream := &mockReadCloser{Reader: strings.NewReader(input)}
	recorder := httptest.NewRecorder()

	f, err := NewForwarder(ForwarderConfig{
		Upstream:       upstream,
		Downstream:     recorder,
		ClientCtx:      context.Background(),
		UpstreamFamily: FamilyAnthropic,
		ClientFamily:   FamilyAnthropic,
	})
	require.NoError(t, err)

	summary, err := f.Forward()
	require.NoError(t, err)
	assert.Equal(t, 5, summary.InputTokens)
	assert.Equal(t, 2, summary.OutputTokens)
	assert.Equal(t, "stop", summary.FinishReason)
	assert.True(t, upstream.closed)
	assert.Equal(t, input, recorder.Body.String())
}

func TestForward_GoogleToAnthropicTranslation(t *testing.T) {
	input := `data: {"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}` + "\n\n" +
		`data: {"candidates":[{"content":{"parts":[{"text":" world"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}` + "\n\n"

	upstream := &mockReadCloser{Reader: strings.NewReader(input)}
	recorder := httptest.NewRecorder()

	f, err := NewForwarder(ForwarderConfig{
		Upstream:       upstream,
		Downstream:     recorder,
		ClientCtx:      context.Background(),
		UpstreamFamily: FamilyGoogle,
		ClientFamily:   FamilyAnthropic,
	})
	require.NoError(t, err)

	summary, err := f.Forward()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.InputTokens)
	assert.Equal(t, 2, summary.OutputTokens)
	assert.Equal(t, "stop", summary.FinishReason)

	body := recorder.Body.String()
	assert.Contains(t, body, "message_start")
	assert.Contains(t, body, "content_block_delta")
	assert.Contains(t, body, "message_stop")
	assert.Contains(t, body, "hello")
}

func TestForward_AnthropicToOpenAITranslation(t *testing.T) {
	input := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet\"}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	upstream := &mockReadCloser{Reader: strings.NewReader(input)}
	recorder := httptest.NewRecorder()

	f, err := NewForwarder(ForwarderConfig{
		Upstream:       upstream,
		Downstream:     recorder,
		ClientCtx:      context.Background(),
		UpstreamFamily: FamilyAnthropic,
		ClientFamily:   FamilyOpenAI,
	})
	require.NoError(t, err)

	_, err = f.Forward()
	require.NoError(t, err)

	body := recorder.Body.String()
	assert.Contains(t, body, "chat.completion.chunk")
	assert.Contains(t, body, `"content":"hi"`)
	assert.Contains(t, body, "[DONE]")
}
