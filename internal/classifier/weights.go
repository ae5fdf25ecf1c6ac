package classifier

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Dimension names, used both as weight-map keys and ClassificationResult
// dimension keys.
const (
	DimTokenCount          = "tokenCount"
	DimCodePresence        = "codePresence"
	DimReasoningMarkers    = "reasoningMarkers"
	DimSimpleIndicators    = "simpleIndicators"
	DimMultiStepPatterns   = "multiStepPatterns"
	DimQuestionCount       = "questionCount"
	DimSystemPromptSignals = "systemPromptSignals"
	DimConversationDepth   = "conversationDepth"
	DimAgenticTask         = "agenticTask"
	DimTechnicalTerms      = "technicalTerms"
	DimConstraintCount     = "constraintCount"
	DimEscalationSignals   = "escalationSignals"
)

// Weights holds the per-dimension weight used to build the composite score.
// simpleIndicators is expected to carry a negative weight: it pulls the
// composite down, it does not get dropped from the sum.
type Weights map[string]float64

// DefaultWeights mirrors the twelve dimensions in spec.md §4.2, tuned so a
// bare "hello" lands near 0.0 and a multi-paragraph refactor request lands
// near 1.0.
func DefaultWeights() Weights {
	return Weights{
		DimTokenCount:          0.12,
		DimCodePresence:        0.12,
		DimReasoningMarkers:    0.10,
		DimSimpleIndicators:    -0.18,
		DimMultiStepPatterns:   0.10,
		DimQuestionCount:       0.06,
		DimSystemPromptSignals: 0.06,
		DimConversationDepth:   0.06,
		DimAgenticTask:         0.12,
		DimTechnicalTerms:      0.10,
		DimConstraintCount:     0.06,
		DimEscalationSignals:   0.08,
	}
}

// LoadWeights reads an override file if path is non-empty, merging it over
// DefaultWeights; unknown keys in the file are rejected so a typo in
// configuration fails fast rather than silently no-op'ing.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()
	if path == "" {
		return w, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier weights: %w", err)
	}

	var overrides map[string]float64
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse classifier weights: %w", err)
	}

	for k, v := range overrides {
		if _, known := w[k]; !known {
			return nil, fmt.Errorf("classifier weights: unknown dimension %q", k)
		}
		w[k] = v
	}

	return w, nil
}

// Thresholds are the tier boundaries on the composite score.
type Thresholds struct {
	SimpleMax  float64
	ComplexMin float64
}

// DefaultThresholds matches spec.md §4.2.
func DefaultThresholds() Thresholds {
	return Thresholds{SimpleMax: 0.30, ComplexMin: 0.65}
}
