package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/glyphoxa-grammar/pkg/dictation"
)

// ErrProviderNotRegistered is returned by CreateDictationTranscriber when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to transcriber constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]func(ProviderEntry) (dictation.Transcriber, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{transcriber: make(map[string]func(ProviderEntry) (dictation.Transcriber, error))}
}

// RegisterDictationTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDictationTranscriber(name string, factory func(ProviderEntry) (dictation.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// CreateDictationTranscriber instantiates a [dictation.Transcriber] using
// the factory registered under entry.Name. Returns
// [ErrProviderNotRegistered] if no factory has been registered for that
// name.
func (r *Registry) CreateDictationTranscriber(entry ProviderEntry) (dictation.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: dictation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
