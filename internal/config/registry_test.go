package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/glyphoxa-grammar/internal/config"
	"github.com/MrWong99/glyphoxa-grammar/pkg/dictation"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "", nil
}

func TestRegistryCreateDictationTranscriber(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterDictationTranscriber("stub", func(config.ProviderEntry) (dictation.Transcriber, error) {
		return stubTranscriber{}, nil
	})

	got, err := r.CreateDictationTranscriber(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("CreateDictationTranscriber: %v", err)
	}
	if _, ok := got.(stubTranscriber); !ok {
		t.Errorf("got %T, want stubTranscriber", got)
	}
}

func TestRegistryCreateDictationTranscriberUnregistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateDictationTranscriber(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}
