// Package native is the CGO boundary to the real Kaldi nnet3 online decoder
// shared library. It is built only with the "kaldi_native" build tag; without
// it, New returns ErrUnavailable so the rest of the module links and tests
// cleanly on a machine without the native library installed.
//
// The narrow C surface this package expects — construct/destruct,
// add/reload/remove grammar by slot index, decode, and retrieve output — is
// wrapped in the usual cgo-preamble, opaque-handle, finalizer-free explicit
// Close shape. Word alignment is not part of that surface: GetWordAlign
// returns an error.
package native

import (
	"context"
	"errors"

	"github.com/MrWong99/glyphoxa-grammar/pkg/decoder"
)

// ErrUnavailable is returned by New when the package was built without the
// "kaldi_native" build tag, or when the shared library fails to load.
var ErrUnavailable = errors.New("native decoder: not built with kaldi_native tag")

// Options configures the native decoder session.
type Options struct {
	ModelDir  string
	MaxRuleID int
}

// New attempts to start a native decoder session. On a build without the
// kaldi_native tag this always fails with ErrUnavailable; see native_cgo.go
// for the real implementation gated behind that tag.
func New(ctx context.Context, opts Options) (decoder.Decoder, error) {
	return newNative(ctx, opts)
}
