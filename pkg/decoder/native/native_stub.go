//go:build !kaldi_native

package native

import (
	"context"

	"github.com/MrWong99/glyphoxa-grammar/pkg/decoder"
)

func newNative(_ context.Context, _ Options) (decoder.Decoder, error) {
	return nil, ErrUnavailable
}
