// Package transcript turns streamed transcription fragments into finalized entries.
package transcript

import (
	"strings"
	"sync"
)

// Speaker identifies who said a fragment
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one finalized utterance
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// turnOrder is the order entries are emitted in when a turn completes
var turnOrder = []Speaker{SpeakerUser, SpeakerAssistant}

// Aggregator buffers fragments per speaker until a turn completes
type Aggregator struct {
	mu      sync.Mutex
	pending map[Speaker]*strings.Builder
}

// NewAggregator creates an aggregator with empty buffers
func NewAggregator() *Aggregator {
	a := &Aggregator{pending: make(map[Speaker]*strings.Builder, len(turnOrder))}
	for _, sp := range turnOrder {
		a.pending[sp] = &strings.Builder{}
	}
	return a
}

// AppendFragment concatenates delta onto the speaker's buffer
func (a *Aggregator) AppendFragment(speaker Speaker, delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.pending[speaker]
	if !ok {
		return
	}
	b.WriteString(delta)
}

// CompleteTurn emits a trimmed entry per non-empty buffer, user first, and
// clears both buffers.
func (a *Aggregator) CompleteTurn() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var entries []Entry
	for _, sp := range turnOrder {
		b := a.pending[sp]
		if text := strings.TrimSpace(b.String()); text != "" {
			entries = append(entries, Entry{Speaker: sp, Text: text})
		}
		b.Reset()
	}
	return entries
}

// Reset drops any partial text
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.pending {
		b.Reset()
	}
}

// Pending returns the untrimmed partial text for speaker
func (a *Aggregator) Pending(speaker Speaker) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.pending[speaker]; ok {
		return b.String()
	}
	return ""
}
