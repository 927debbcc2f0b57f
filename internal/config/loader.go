package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, fills in defaults, and
// returns a validated [GrammarConfig].
func Load(path string) (*GrammarConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*GrammarConfig, error) {
	cfg := &GrammarConfig{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *GrammarConfig) {
	cfg.Model.MaxRuleID = cfg.Model.maxRuleIDOrDefault()
	cfg.Model.CompileWorkers = cfg.Model.compileWorkersOrDefault()
	if cfg.Model.DecodingFramework == "" {
		cfg.Model.DecodingFramework = DecodingFrameworkAGF
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *GrammarConfig) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Model.ModelDir == "" {
		errs = append(errs, errors.New("model.model_dir is required"))
	}
	if cfg.Model.TmpDir == "" {
		errs = append(errs, errors.New("model.tmp_dir is required"))
	}
	if !cfg.Model.DecodingFramework.IsValid() {
		errs = append(errs, fmt.Errorf("model.decoding_framework %q is invalid; valid values: agf, laf", cfg.Model.DecodingFramework))
	}
	if cfg.Model.MaxRuleID <= 0 {
		errs = append(errs, fmt.Errorf("model.max_rule_id %d must be positive", cfg.Model.MaxRuleID))
	}

	if cfg.Model.NativeFST && cfg.Model.DecodingFramework != DecodingFrameworkAGF {
		slog.Warn("model.native_fst is enabled with a non-AGF decoding framework; the native decoder proxy only supports AGF")
	}

	if cfg.Dictation.Name != "" && cfg.Dictation.APIKey == "" {
		slog.Warn("dictation provider configured without an api_key", "provider", cfg.Dictation.Name)
	}

	return errors.Join(errs...)
}
