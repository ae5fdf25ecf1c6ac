package classifier

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

func newDefault() *Classifier {
	return New(DefaultWeights(), DefaultThresholds())
}

func TestClassify_Deterministic(t *testing.T) {
	c := newDefault()
	meta := Meta{MessageCount: 3, SystemPrompt: "You are a helpful assistant."}
	text := "Can you explain why this algorithm has quadratic complexity, step by step?"

	first := c.Classify(text, meta)
	second := c.Classify(text, meta)

	assert.Equal(t, first.Composite, second.Composite)
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestClassify_SimpleGreeting(t *testing.T) {
	c := newDefault()
	result := c.Classify("hi", Meta{MessageCount: 1})
	assert.Equal(t, types.TierSimple, result.Tier)
}

func TestClassify_ComplexAgenticTask(t *testing.T) {
	c := newDefault()
	text := `Please implement and refactor the payment microservice to use a new
database schema, must not break the existing API, should handle concurrency
correctly with proper mutex usage, and explain the algorithm step by step:
1. design the schema
2. implement the migration
3. then add tests
This is urgent, production is down.`
	result := c.Classify(text, Meta{MessageCount: 5, SystemPrompt: "You are an expert Go backend engineer working on a large distributed system."})
	require.Greater(t, result.Composite, 0.65)
	assert.Equal(t, types.TierComplex, result.Tier)
}

func TestClassify_ConfidenceNearBoundaryIsLow(t *testing.T) {
	c := New(DefaultWeights(), Thresholds{SimpleMax: 0.30, ComplexMin: 0.65})
	// Composite pinned exactly at the simple boundary -> distance 0 -> confidence 0.5.
	conf := c.confidenceFor(0.30, types.TierSimple)
	assert.InDelta(t, 0.5, conf, 1e-9)
}

func TestClassify_CaseAndWidthFoldingAreEquivalent(t *testing.T) {
	c := newDefault()
	ascii := c.Classify("HELLO", Meta{MessageCount: 1})
	fullWidth := c.Classify("ＨＥＬＬＯ", Meta{MessageCount: 1}) // full-width "HELLO"
	assert.Equal(t, ascii.Tier, fullWidth.Tier)
}

func TestLoadWeights_UnknownDimensionRejected(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/weights.json"
	require.NoError(t, writeFile(path, `{"notARealDimension": 1.0}`))
	_, err := LoadWeights(path)
	assert.Error(t, err)
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
