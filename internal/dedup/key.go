// Package dedup implements the in-flight/completed request dedup cache,
// keyed by a canonical content hash, grounded on the teacher's
// internal/cache keygen/memory shapes but specialized to spec.md §4.6's
// exact key derivation and single-producer/multi-waiter semantics.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/goccy/go-json"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// timestampPrefixRe strips a leading `[DAY YYYY-MM-DD HH:MM TZ]` marker
// some clients prepend to the first user turn, so two requests that only
// differ by wall-clock timestamp still dedup together.
var timestampPrefixRe = regexp.MustCompile(`(?i)^\[(?:mon|tue|wed|thu|fri|sat|sun)\s+\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}\s+\S+\]\s*`)

type keyMessage struct {
	Role    types.Role `json:"role"`
	Content string     `json:"content"`
}

type keyPayload struct {
	System   string       `json:"system"`
	Messages []keyMessage `json:"messages"`
}

// Key computes the canonical dedup key for req: SHA-256 of the JSON
// encoding of {system, messages} (role order preserved, timestamp
// prefixes stripped from each message's text), truncated to its first 16
// hex characters.
func Key(req *types.ParsedRequest) string {
	payload := keyPayload{System: req.System}
	for _, m := range req.Messages {
		text := timestampPrefixRe.ReplaceAllString(types.ExtractText(m.Content), "")
		payload.Messages = append(payload.Messages, keyMessage{Role: m.Role, Content: text})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(req.System)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:16]
}
