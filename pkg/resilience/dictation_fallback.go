package resilience

import (
	"context"

	"github.com/MrWong99/glyphoxa-grammar/pkg/dictation"
)

// DictationFallback implements [dictation.Transcriber] with automatic
// failover across multiple alternative-dictation backends. Each backend
// has its own circuit breaker, so a backend that is timing out or erroring
// repeatedly is skipped in favour of the next one until its reset timeout
// elapses.
type DictationFallback struct {
	group *FallbackGroup[dictation.Transcriber]
}

// Compile-time interface assertion.
var _ dictation.Transcriber = (*DictationFallback)(nil)

// NewDictationFallback creates a [DictationFallback] with primary as the
// preferred backend.
func NewDictationFallback(primary dictation.Transcriber, primaryName string, cfg FallbackConfig) *DictationFallback {
	return &DictationFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *DictationFallback) AddFallback(name string, t dictation.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe tries each backend in order until one returns without error.
// If every backend fails or has an open circuit, [ErrAllFailed] is
// returned; the caller (the rule manager's output parser) treats this the
// same as any other transcription error and keeps the local decoder's
// text for the span.
func (f *DictationFallback) Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error) {
	return ExecuteWithResult(f.group, func(t dictation.Transcriber) (string, error) {
		return t.Transcribe(ctx, audio, languageCode)
	})
}
