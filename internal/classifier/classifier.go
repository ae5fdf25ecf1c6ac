// Package classifier scores an inbound prompt on twelve weighted
// dimensions and produces a composite complexity score, a tier, and a
// sigmoid-calibrated confidence. It is pure: no I/O, no global state after
// the weights/thresholds it closes over are loaded, and deterministic for
// a fixed (text, meta, weights, thresholds) input.
package classifier

import (
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// Meta carries the conversation-level signals the classifier needs beyond
// the last user utterance's raw text.
type Meta struct {
	MessageCount int
	SystemPrompt string
}

// Classifier is constructed once from a fixed set of weights and
// thresholds and reused across requests; it holds no mutable state.
type Classifier struct {
	weights    Weights
	thresholds Thresholds
	caser      cases.Caser
}

// New builds a Classifier over the given weights and thresholds.
func New(weights Weights, thresholds Thresholds) *Classifier {
	return &Classifier{
		weights:    weights,
		thresholds: thresholds,
		caser:      cases.Fold(),
	}
}

// Classify scores text+meta and returns the full result. Deterministic:
// calling it twice with identical inputs always yields an identical result.
func (c *Classifier) Classify(text string, meta Meta) types.ClassificationResult {
	start := time.Now()

	norm := c.normalize(text)
	dims := map[string]float64{
		DimTokenCount:          dimTokenCount(norm),
		DimCodePresence:        dimCodePresence(text), // code fences are case-sensitive, use raw text
		DimReasoningMarkers:    dimReasoningMarkers(norm),
		DimSimpleIndicators:    dimSimpleIndicators(norm),
		DimMultiStepPatterns:   dimMultiStepPatterns(norm),
		DimQuestionCount:       dimQuestionCount(text),
		DimSystemPromptSignals: dimSystemPromptSignals(c.normalize(meta.SystemPrompt)),
		DimConversationDepth:   dimConversationDepth(meta.MessageCount),
		DimAgenticTask:         dimAgenticTask(norm),
		DimTechnicalTerms:      dimTechnicalTerms(norm),
		DimConstraintCount:     dimConstraintCount(norm),
		DimEscalationSignals:   dimEscalationSignals(norm),
	}

	composite := 0.0
	for dim, score := range dims {
		composite += c.weights[dim] * score
	}
	composite = clamp01(composite)

	tier := c.tierFor(composite)
	confidence := c.confidenceFor(composite, tier)

	return types.ClassificationResult{
		Composite:  composite,
		Tier:       tier,
		Confidence: confidence,
		Dimensions: dims,
		Elapsed:    time.Since(start),
	}
}

// normalize case-folds and folds full-width characters to half-width so
// CJK punctuation and shouted/mixed-case text score identically to their
// canonical ASCII forms before dimension scoring runs.
func (c *Classifier) normalize(text string) string {
	return c.caser.String(width.Fold.String(text))
}

func (c *Classifier) tierFor(composite float64) types.Tier {
	switch {
	case composite <= c.thresholds.SimpleMax:
		return types.TierSimple
	case composite >= c.thresholds.ComplexMin:
		return types.TierComplex
	default:
		return types.TierStandard
	}
}

// confidenceFor is the sigmoid of the signed distance from the nearest
// relevant tier boundary, steepness k=10, per spec.md §4.2.
func (c *Classifier) confidenceFor(composite float64, tier types.Tier) float64 {
	const k = 10.0
	var d float64
	switch tier {
	case types.TierSimple:
		d = c.thresholds.SimpleMax - composite
	case types.TierComplex:
		d = composite - c.thresholds.ComplexMin
	default:
		d = math.Min(composite-c.thresholds.SimpleMax, c.thresholds.ComplexMin-composite)
	}
	return 1.0 / (1.0 + math.Exp(-k*d))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// --- dimension scorers -----------------------------------------------

func dimTokenCount(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	// log-scaled: 5 words -> ~0.26, 50 words -> ~0.57, 500 words -> ~0.90,
	// reaching 1.0 at 999 words
	return clamp01(math.Log10(float64(words)+1) / 3.0)
}

var (
	fencedCodeRe  = regexp.MustCompile("```")
	inlineCodeRe  = regexp.MustCompile("`[^`\n]+`")
	codeKeywordRe = regexp.MustCompile(`(?i)\b(func|function|class|def|import|package|return|const|var|let|struct|interface)\b`)
)

func dimCodePresence(text string) float64 {
	score := 0.0
	if fencedCodeRe.MatchString(text) {
		score += 0.6
	}
	if n := len(inlineCodeRe.FindAllString(text, -1)); n > 0 {
		score += math.Min(0.3, 0.1*float64(n))
	}
	if n := len(codeKeywordRe.FindAllString(text, -1)); n > 0 {
		score += math.Min(0.3, 0.05*float64(n))
	}
	return clamp01(score)
}

var reasoningMarkerRe = regexp.MustCompile(`\b(explain|why|step by step|analyze|analyse|because|reasoning|justify|walk me through)\b`)

func dimReasoningMarkers(norm string) float64 {
	n := len(reasoningMarkerRe.FindAllString(norm, -1))
	return clamp01(0.25 * float64(n))
}

var simpleIndicatorRe = regexp.MustCompile(`^(hi|hey|hello|yo|sup|thanks|thank you|ok|okay|cool|nice|great|yes|no|yep|nope|got it|k)[\s!.?]*$`)

func dimSimpleIndicators(norm string) float64 {
	trimmed := strings.TrimSpace(norm)
	words := strings.Fields(trimmed)
	if simpleIndicatorRe.MatchString(trimmed) {
		return 1.0
	}
	if len(words) <= 2 {
		return 0.6
	}
	return 0.0
}

var (
	enumMarkerRe    = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*])\s+`)
	sequenceWordsRe = regexp.MustCompile(`\b(first|then|next|after that|finally|afterwards)\b`)
)

func dimMultiStepPatterns(norm string) float64 {
	score := 0.0
	if n := len(enumMarkerRe.FindAllString(norm, -1)); n >= 2 {
		score += math.Min(0.6, 0.2*float64(n))
	}
	if n := len(sequenceWordsRe.FindAllString(norm, -1)); n > 0 {
		score += math.Min(0.4, 0.15*float64(n))
	}
	return clamp01(score)
}

func dimQuestionCount(text string) float64 {
	n := strings.Count(text, "?")
	return clamp01(float64(n) / 4.0) // saturates at 4 question marks
}

func dimSystemPromptSignals(norm string) float64 {
	if norm == "" {
		return 0
	}
	words := len(strings.Fields(norm))
	score := math.Log10(float64(words)+1) / 3.0
	if n := len(enumMarkerRe.FindAllString(norm, -1)); n > 0 {
		score += 0.1
	}
	return clamp01(score)
}

func dimConversationDepth(messageCount int) float64 {
	if messageCount <= 1 {
		return 0
	}
	return clamp01(math.Log10(float64(messageCount)) / 1.5)
}

var agenticTaskRe = regexp.MustCompile(`\b(build|implement|design|refactor|migrate|architect|create a|write a|set up|integrate)\b`)

func dimAgenticTask(norm string) float64 {
	n := len(agenticTaskRe.FindAllString(norm, -1))
	return clamp01(0.3 * float64(n))
}

var technicalTermRe = regexp.MustCompile(`\b(api|database|schema|algorithm|concurrency|latency|throughput|kubernetes|docker|microservice|async|mutex|goroutine|regression|pipeline|deployment|cache|index|query|encryption|protocol)\b`)

func dimTechnicalTerms(norm string) float64 {
	n := len(technicalTermRe.FindAllString(norm, -1))
	return clamp01(0.12 * float64(n))
}

var constraintRe = regexp.MustCompile(`\b(must|should not|shouldn't|must not|mustn't|cannot|within \d+|no more than|at least|required to)\b`)

func dimConstraintCount(norm string) float64 {
	n := len(constraintRe.FindAllString(norm, -1))
	return clamp01(0.2 * float64(n))
}

var escalationRe = regexp.MustCompile(`\b(urgent|asap|critical|production (is )?down|emergency|blocker|high priority|immediately)\b`)

func dimEscalationSignals(norm string) float64 {
	n := len(escalationRe.FindAllString(norm, -1))
	return clamp01(0.35 * float64(n))
}
