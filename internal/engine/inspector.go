package engine

import (
	"sync"
	"time"
	"unicode/utf8"
)

// EvaluationStatus classifies a history entry.
type EvaluationStatus string

const (
	EvaluationStatusApplied     EvaluationStatus = "applied"
	EvaluationStatusUnchanged   EvaluationStatus = "unchanged"
	EvaluationStatusError       EvaluationStatus = "error"
	EvaluationStatusInvalidated EvaluationStatus = "invalidated"
	EvaluationStatusReset       EvaluationStatus = "reset"

	inspectorHistoryLimit = 128
	historyTextLimit      = 120
)

// Evaluation is one entry of the engine's recent activity.
type Evaluation struct {
	Timestamp time.Time        `json:"timestamp"`
	Rule      string           `json:"rule,omitempty"`
	Element   string           `json:"element,omitempty"`
	Text      string           `json:"text,omitempty"`
	Status    EvaluationStatus `json:"status"`
	Markers   int              `json:"markers,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type evaluationLog struct {
	mu      sync.Mutex
	entries []Evaluation
	limit   int
}

func newEvaluationLog(limit int) *evaluationLog {
	if limit <= 0 {
		limit = inspectorHistoryLimit
	}
	return &evaluationLog{limit: limit}
}

func (l *evaluationLog) record(entry Evaluation) {
	if l == nil {
		return
	}
	entry.Text = truncateText(entry.Text, historyTextLimit)
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.limit-1]
	}
	l.entries = append(l.entries, entry)
}

func (l *evaluationLog) snapshot() []Evaluation {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	return append([]Evaluation(nil), l.entries...)
}

// truncateText cuts s to at most limit bytes without splitting a rune.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
