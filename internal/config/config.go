// Package config provides the configuration schema, loader, and transcriber
// registry for the grammar engine.
package config

import "runtime"

// GrammarConfig is the root configuration structure for the grammar engine.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type GrammarConfig struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	Tools  ToolsConfig  `yaml:"tools"`

	// Dictation configures the alternative-dictation bridge's cloud
	// transcriber. Name selects a factory registered in the [Registry];
	// leave empty to disable cloud dictation entirely.
	Dictation ProviderEntry `yaml:"dictation"`
}

// ServerConfig holds logging settings for the grammar engine.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// ModelConfig locates the Kaldi model directory and its fixed files, and
// tunes the graph-compiler/rule-manager pipeline.
type ModelConfig struct {
	// ModelDir is the root of the Kaldi nnet3 model the graph compiler and
	// lexicon manager read their fixed files from.
	ModelDir string `yaml:"model_dir"`

	// TmpDir holds compiled graphs and the artifact cache document.
	TmpDir string `yaml:"tmp_dir"`

	// MaxRuleID bounds the decoder's non-terminal dispatch table. Defaults
	// to 999 (1000 slots) if zero.
	MaxRuleID int `yaml:"max_rule_id"`

	// CacheFSTs enables the artifact cache; when false every Compile call
	// re-invokes the external compiler regardless of a prior identical run.
	CacheFSTs bool `yaml:"cache_fsts"`

	// DecodingFramework selects the graph-composition style.
	// Valid values: "agf" (active-grammar FST, non-terminal dispatch) or
	// "laf" (lexicon-appended FST, no non-terminal dispatch).
	DecodingFramework DecodingFramework `yaml:"decoding_framework"`

	// NativeFST enables the CGO-linked native decoder proxy instead of the
	// mock/stub implementation.
	NativeFST bool `yaml:"native_fst"`

	// CompileWorkers bounds concurrent graph-compiler subprocesses.
	// Defaults to runtime.GOMAXPROCS(0) if zero.
	CompileWorkers int `yaml:"compile_workers"`
}

func (m ModelConfig) maxRuleIDOrDefault() int {
	if m.MaxRuleID <= 0 {
		return 999
	}
	return m.MaxRuleID
}

func (m ModelConfig) compileWorkersOrDefault() int {
	if m.CompileWorkers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return m.CompileWorkers
}

// ToolsConfig names the external Kaldi/OpenFST binaries the compile
// pipelines shell out to.
type ToolsConfig struct {
	FSTCompile      string `yaml:"fstcompile"`
	FSTAddSelfLoops string `yaml:"fstaddselfloops"`
	FSTArcSort      string `yaml:"fstarcsort"`
	MakeLexiconFST  string `yaml:"make_lexicon_fst"`
	CompileGraphAGF string `yaml:"compile_graph_agf"`
}

// ProviderEntry is the common configuration block for a pluggable provider,
// mirroring the ambient provider-entry shape used elsewhere in this
// codebase lineage for LLM/STT/TTS provider selection.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g.,
	// "deepgram", "whisper-cloud"). Empty disables the provider.
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// LogLevel is a validated server.log_level value.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognized log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// DecodingFramework is a validated model.decoding_framework value.
type DecodingFramework string

const (
	DecodingFrameworkAGF DecodingFramework = "agf"
	DecodingFrameworkLAF DecodingFramework = "laf"
)

// IsValid reports whether f is one of the recognized decoding frameworks.
func (f DecodingFramework) IsValid() bool {
	switch f {
	case DecodingFrameworkAGF, DecodingFrameworkLAF:
		return true
	default:
		return false
	}
}
