// Package decoder defines the narrow contract between the grammar control
// plane and the native Kaldi nnet3 online decoder: a handful of operations
// to add, reload, and remove per-rule grammar FSTs by slot index, drive
// audio through the decoder, and retrieve the decoded output together with
// word-level time alignment.
//
// This package intentionally does not implement real speech decoding — that
// lives behind a CGO boundary (see pkg/decoder/native) — and in tests a
// hand-written mock (see pkg/decoder/mock) stands in for it.
package decoder

import (
	"context"
	"errors"
)

// ErrNotRunning reports a decoder session that has not been started. Neither
// the mock nor the native implementation in this module returns it.
var ErrNotRunning = errors.New("decoder: not running")

// WordAlignment is one decoded word's identity and byte-offset span in the
// audio stream that produced it, used to locate alternative-dictation
// spans for re-transcription.
type WordAlignment struct {
	Word           string
	OffsetStart    int // byte offset into the audio buffer where the word begins
	DurationBytes  int // length of the word's audio span, in bytes
}

// DecodeResult is one increment of decoder output: the recognized text so
// far (or for this utterance, depending on Partial) and whether decoding of
// the current utterance is complete.
type DecodeResult struct {
	Text    string
	Partial bool
}

// Decoder is the narrow FFI surface the rule manager drives. Implementations
// must be safe for the specific concurrency pattern the rule manager uses:
// AddGrammarFST/ReloadGrammarFST/RemoveGrammarFST are called by the rule
// manager without holding any lock of its own and never from its compile
// workers, while Decode/GetOutput/GetWordAlign may run on a separate
// audio-streaming goroutine and overlap with a grammar mutation.
type Decoder interface {
	// AddGrammarFST loads fstPath (or, for a native in-memory graph, an
	// implementation-defined handle) as the grammar for rule slot id. id
	// must equal the decoder's next free slot; callers must not silently
	// reassign slots.
	AddGrammarFST(ctx context.Context, id int, fstPath string) error

	// ReloadGrammarFST replaces the grammar already loaded at slot id.
	ReloadGrammarFST(ctx context.Context, id int, fstPath string) error

	// RemoveGrammarFST unloads the grammar at slot id. The caller is
	// responsible for renumbering any higher slots before reusing ids.
	RemoveGrammarFST(ctx context.Context, id int) error

	// Decode pushes one chunk of PCM audio through the decoder and returns
	// the incremental result, if any is ready.
	Decode(ctx context.Context, audio []byte) (DecodeResult, error)

	// GetOutput returns the finalized decode output for the current
	// utterance, in the "#nonterm:ruleN word word ... #nonterm:end"
	// format the rule manager's ParseOutput expects.
	GetOutput(ctx context.Context) (string, error)

	// GetWordAlign returns word-level time alignment for the current
	// utterance's decode output, plus the raw audio buffer it was decoded
	// from (needed to slice out alternative-dictation spans).
	GetWordAlign(ctx context.Context) (audio []byte, alignment []WordAlignment, err error)

	// Close releases any resources held by the decoder session.
	Close() error
}
