// Package routinglog implements the append-only routing log of spec.md
// §3/§4.9: one line-delimited JSON record per completed request, holding
// only a prompt hash, never message content. Writes are best-effort — a
// write failure is logged and swallowed, never surfaced to the client.
//
// The Writer also keeps an in-memory requestId → modelId index so the
// override detector's parent-request lookup (spec.md §4.3 rule 3) stays
// O(1) on the hot path instead of re-scanning the file per request,
// grounded on the teacher's in-memory stats map shape
// (routers/memory_stats_store.go), backed here by the durable file.
package routinglog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/liekzejaws/clawd-throttle/internal/observability"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// Entry is one persisted RoutingLogEntry (spec.md §3).
type Entry struct {
	RequestID        string             `json:"requestId"`
	Timestamp        time.Time          `json:"timestamp"`
	PromptHash       string             `json:"promptHash"`
	Composite        float64            `json:"composite"`
	Confidence       float64            `json:"confidence"`
	Tier             types.Tier         `json:"tier"`
	ModelID          string             `json:"modelId"`
	Provider         string             `json:"provider"`
	Mode             types.Mode         `json:"mode"`
	Override         types.OverrideKind `json:"override"`
	InputTokens      int                `json:"inputTokens"`
	OutputTokens     int                `json:"outputTokens"`
	EstimatedCostUSD float64            `json:"estimatedCostUsd"`
	LatencyMs        int64              `json:"latencyMs"`
	ParentRequestID  string             `json:"parentRequestId,omitempty"`
	ClientID         string             `json:"clientId,omitempty"`
	KeyType          string             `json:"keyType,omitempty"`
	Failover         bool               `json:"failover,omitempty"`
}

// Writer is the single append-only writer for the routing log file.
// Safe for concurrent use; appends are serialized under mu per spec.md §5.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	path string
	log  *observability.Logger

	idxMu sync.RWMutex
	index map[string]string // requestId -> modelId
}

// Open opens (creating if necessary) the routing log file at path,
// replaying it once to rebuild the in-memory parent-lookup index so
// sub-agent step-down keeps working across process restarts.
func Open(path string, log *observability.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open routing log: %w", err)
	}

	w := &Writer{file: f, path: path, log: log, index: make(map[string]string)}
	w.loadIndex()
	return w, nil
}

func (w *Writer) loadIndex() {
	f, err := os.Open(w.path)
	if err != nil {
		return // fresh file, nothing to replay
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // best-effort: skip a corrupt line rather than fail startup
		}
		if e.RequestID != "" {
			w.index[e.RequestID] = e.ModelID
		}
	}
	if err := scanner.Err(); err != nil && w.log != nil {
		w.log.Warn("routing log index replay stopped early", "error", err)
	}
}

// Append serializes entry as one JSON line. On failure it logs a warning
// and returns without reporting an error — a log write must never abort the response (spec.md
// §4.9, §7 propagation policy).
func (w *Writer) Append(entry Entry) {
	line, err := json.Marshal(entry)
	if err != nil {
		if w.log != nil {
			w.log.Warn("routing log marshal failed", "error", err, "request_id", entry.RequestID)
		}
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	_, writeErr := w.file.Write(line)
	w.mu.Unlock()

	if writeErr != nil && w.log != nil {
		w.log.Warn("routing log write failed", "error", writeErr, "request_id", entry.RequestID)
	}

	if entry.RequestID != "" {
		w.idxMu.Lock()
		w.index[entry.RequestID] = entry.ModelID
		w.idxMu.Unlock()
	}
}

// Lookup resolves a parent request id to the model it was routed to. Its
// signature matches override.ParentLookup exactly so a *Writer can be
// passed directly as the pipeline's parent resolver.
func (w *Writer) Lookup(parentRequestID string) (modelID string, ok bool) {
	w.idxMu.RLock()
	defer w.idxMu.RUnlock()
	modelID, ok = w.index[parentRequestID]
	return modelID, ok
}

// Since scans the log from the beginning and returns every entry whose
// Timestamp is at or after since. Corrupt lines are skipped rather than
// failing the whole scan.
func (w *Writer) Since(since time.Time) ([]Entry, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("open routing log for read: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !e.Timestamp.Before(since) {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
