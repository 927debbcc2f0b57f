// Package mock provides a hand-written, in-memory [decoder.Decoder]
// implementation for tests, rather than a mock-generation framework.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/glyphoxa-grammar/pkg/decoder"
)

// Decoder is a scriptable fake: tests preload Output/Alignment/Audio and
// record which grammar slots were added/reloaded/removed.
type Decoder struct {
	mu sync.Mutex

	Slots map[int]string // id -> fstPath, mirroring what the real decoder would have loaded

	Output    string
	Alignment []decoder.WordAlignment
	Audio     []byte

	DecodeErr error
	Decoded   [][]byte // every audio chunk passed to Decode, in order

	Closed bool
}

// New returns an empty mock decoder.
func New() *Decoder {
	return &Decoder{Slots: make(map[int]string)}
}

func (d *Decoder) AddGrammarFST(_ context.Context, id int, fstPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.Slots[id]; exists {
		return fmt.Errorf("mock decoder: slot %d already occupied", id)
	}
	d.Slots[id] = fstPath
	return nil
}

func (d *Decoder) ReloadGrammarFST(_ context.Context, id int, fstPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.Slots[id]; !exists {
		return fmt.Errorf("mock decoder: slot %d not loaded", id)
	}
	d.Slots[id] = fstPath
	return nil
}

func (d *Decoder) RemoveGrammarFST(_ context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.Slots[id]; !exists {
		return fmt.Errorf("mock decoder: slot %d not loaded", id)
	}
	delete(d.Slots, id)
	return nil
}

func (d *Decoder) Decode(_ context.Context, audio []byte) (decoder.DecodeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DecodeErr != nil {
		return decoder.DecodeResult{}, d.DecodeErr
	}
	d.Decoded = append(d.Decoded, audio)
	return decoder.DecodeResult{Text: d.Output}, nil
}

func (d *Decoder) GetOutput(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Output, nil
}

func (d *Decoder) GetWordAlign(_ context.Context) ([]byte, []decoder.WordAlignment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Audio, d.Alignment, nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

var _ decoder.Decoder = (*Decoder)(nil)
