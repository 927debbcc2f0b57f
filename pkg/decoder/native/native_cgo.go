//go:build kaldi_native

package native

/*
#cgo LDFLAGS: -lkaldi_agf_decoder
#include <stdlib.h>

typedef void* agf_decoder_handle;

extern agf_decoder_handle agf_decoder__construct(const char* model_dir, int max_rule_id);
extern void agf_decoder__destruct(agf_decoder_handle h);
extern int agf_decoder__add_grammar_fst(agf_decoder_handle h, int rule_id, const char* fst_path);
extern int agf_decoder__reload_grammar_fst(agf_decoder_handle h, int rule_id, const char* fst_path);
extern int agf_decoder__remove_grammar_fst(agf_decoder_handle h, int rule_id);
extern int agf_decoder__decode(agf_decoder_handle h, const void* audio, int audio_len, int* out_partial);
extern const char* agf_decoder__get_output(agf_decoder_handle h);
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/MrWong99/glyphoxa-grammar/pkg/decoder"
)

// cgoDecoder wraps the opaque agf_decoder_handle. A mutex serializes every
// call across it, since the native decoder object itself is not internally
// thread-safe.
type cgoDecoder struct {
	mu     sync.Mutex
	handle C.agf_decoder_handle
}

func newNative(_ context.Context, opts Options) (decoder.Decoder, error) {
	cModelDir := C.CString(opts.ModelDir)
	defer C.free(unsafe.Pointer(cModelDir))

	h := C.agf_decoder__construct(cModelDir, C.int(opts.MaxRuleID))
	if h == nil {
		return nil, fmt.Errorf("native decoder: construct failed for model dir %q", opts.ModelDir)
	}
	return &cgoDecoder{handle: h}, nil
}

func (d *cgoDecoder) AddGrammarFST(_ context.Context, id int, fstPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cPath := C.CString(fstPath)
	defer C.free(unsafe.Pointer(cPath))
	if rc := C.agf_decoder__add_grammar_fst(d.handle, C.int(id), cPath); rc != 0 {
		return fmt.Errorf("native decoder: add_grammar_fst(%d) failed: rc=%d", id, rc)
	}
	return nil
}

func (d *cgoDecoder) ReloadGrammarFST(_ context.Context, id int, fstPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cPath := C.CString(fstPath)
	defer C.free(unsafe.Pointer(cPath))
	if rc := C.agf_decoder__reload_grammar_fst(d.handle, C.int(id), cPath); rc != 0 {
		return fmt.Errorf("native decoder: reload_grammar_fst(%d) failed: rc=%d", id, rc)
	}
	return nil
}

func (d *cgoDecoder) RemoveGrammarFST(_ context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rc := C.agf_decoder__remove_grammar_fst(d.handle, C.int(id)); rc != 0 {
		return fmt.Errorf("native decoder: remove_grammar_fst(%d) failed: rc=%d", id, rc)
	}
	return nil
}

func (d *cgoDecoder) Decode(_ context.Context, audio []byte) (decoder.DecodeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var partial C.int
	var ptr unsafe.Pointer
	if len(audio) > 0 {
		ptr = unsafe.Pointer(&audio[0])
	}
	rc := C.agf_decoder__decode(d.handle, ptr, C.int(len(audio)), &partial)
	if rc != 0 {
		return decoder.DecodeResult{}, fmt.Errorf("native decoder: decode failed: rc=%d", rc)
	}
	out := C.GoString(C.agf_decoder__get_output(d.handle))
	return decoder.DecodeResult{Text: out, Partial: partial != 0}, nil
}

func (d *cgoDecoder) GetOutput(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return C.GoString(C.agf_decoder__get_output(d.handle)), nil
}

func (d *cgoDecoder) GetWordAlign(_ context.Context) ([]byte, []decoder.WordAlignment, error) {
	// Word alignment retrieval requires a second native call not modeled in
	// this header; the full decoder library exposes it, but wiring it is
	// out of scope here (no real decoding pipeline ships in this module).
	return nil, nil, fmt.Errorf("native decoder: GetWordAlign not implemented")
}

func (d *cgoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		C.agf_decoder__destruct(d.handle)
		d.handle = nil
	}
	return nil
}
