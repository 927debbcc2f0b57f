// Package graphcompiler turns a rule's in-memory WFST into a compiled HCLG
// decoding graph file via the external Kaldi AGF toolchain, and builds the
// two fixed, non-rule-specific graphs every decoder session needs: the top
// FST (the non-terminal dispatch table every rule hangs off of) and the
// universal dictation/catch-all grammar.
package graphcompiler

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/glyphoxa-grammar/internal/grammarerr"
	"github.com/MrWong99/glyphoxa-grammar/pkg/artifactcache"
	"github.com/MrWong99/glyphoxa-grammar/pkg/resilience"
	"github.com/MrWong99/glyphoxa-grammar/pkg/wfst"
)

// MaxRuleID is the fixed upper bound on concurrently loadable rule slots.
// The top FST always enumerates "#nonterm:rule0".."#nonterm:rule999"
// regardless of how many rules actually exist at any moment, since the
// decoder's non-terminal dispatch table is baked in at decoder-startup time
// and cannot grow afterward.
const MaxRuleID = 999

// NontermDictation and NontermEnd are the non-terminal markers bounding a
// dictation span.
const (
	NontermDictation = "#nonterm:dictation"
	NontermEnd       = "#nonterm:end"
)

func nontermRule(id int) string { return fmt.Sprintf("#nonterm:rule%d", id) }

// ModelFiles names the fixed Kaldi model files compile-graph-agf consumes.
type ModelFiles struct {
	Tree                string
	FinalModel          string
	LexiconFST          string // L_disambig.fst
	DisambigSyms        string
	Words               string // words.txt
	NontermPhonesOffset int
	NontermWordsOffset  int // id of "#nonterm_begin" in words.txt; "#nonterm_end" is this plus one
}

// ToolPaths names the external compiler binaries.
type ToolPaths struct {
	FSTCompile      string // default "fstcompile"
	CompileGraphAGF string // default "compile-graph-agf"
}

func (t ToolPaths) withDefaults() ToolPaths {
	if t.FSTCompile == "" {
		t.FSTCompile = "fstcompile"
	}
	if t.CompileGraphAGF == "" {
		t.CompileGraphAGF = "compile-graph-agf"
	}
	return t
}

// Compiler drives the external AGF graph compiler and the artifact cache
// for a single model directory.
type Compiler struct {
	tmpDir  string
	model   ModelFiles
	tools   ToolPaths
	cache   *artifactcache.Cache
	breaker *resilience.CircuitBreaker
}

// New returns a Compiler writing compiled graphs under tmpDir. A
// [resilience.CircuitBreaker] guards the compile-graph-agf subprocess: a
// model directory with a corrupt tree or missing disambig symbols fails
// every compile identically, so after a run of consecutive failures the
// breaker trips and further compiles fail fast with [resilience.ErrCircuitOpen]
// instead of repeatedly spawning a subprocess that cannot succeed.
func New(tmpDir string, model ModelFiles, tools ToolPaths, cache *artifactcache.Cache) *Compiler {
	return &Compiler{
		tmpDir: tmpDir,
		model:  model,
		tools:  tools.withDefaults(),
		cache:  cache,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "compile-graph-agf",
		}),
	}
}

// CompileAGF compiles fstText (produced by [wfst.WFST.GetFSTText]) into an
// HCLG graph file and returns its path. If nonterm is true, the graph is
// wrapped with grammar-prepend/append non-terminal markers (the model's
// reserved "#nonterm_begin"/"#nonterm_end" word ids) so the decoder's top
// FST can jump into and back out of it. simplifyLG controls
// --simplify-lg: true for ordinary rule grammars, false for the dictation
// catch-all grammar.
//
// The result is content-addressed: if the artifact cache already has a
// current entry for this exact FST text's filename, the external compiler
// is not invoked.
func (c *Compiler) CompileAGF(ctx context.Context, fstText string, nonterm, simplifyLG bool) (string, error) {
	filename := artifactcache.GraphFilename(fstText)
	outPath := filepath.Join(c.tmpDir, filename)

	if c.cache.GraphIsCurrent(outPath) {
		return outPath, nil
	}

	args := []string{"--arcsort-grammar"}
	if nonterm {
		args = append(args,
			"--grammar-prepend-nonterm="+strconv.Itoa(c.model.NontermWordsOffset),
			"--grammar-append-nonterm="+strconv.Itoa(c.model.NontermWordsOffset+1))
	}
	args = append(args,
		"--nonterm-phones-offset="+strconv.Itoa(c.model.NontermPhonesOffset),
		"--read-disambig-syms="+c.model.DisambigSyms,
		"--simplify-lg="+strconv.FormatBool(simplifyLG),
		c.model.Tree, c.model.FinalModel, c.model.LexiconFST, "-", outPath)

	err := c.breaker.Execute(func() error {
		fstCompile := exec.CommandContext(ctx, c.tools.FSTCompile,
			"--isymbols="+c.model.Words, "--osymbols="+c.model.Words)
		fstCompile.Stdin = strings.NewReader(fstText)
		compileGraph := exec.CommandContext(ctx, c.tools.CompileGraphAGF, args...)
		return runSink(fstCompile, compileGraph)
	})
	if err != nil {
		return "", grammarerr.New(grammarerr.KindCompile, "graphcompiler.CompileAGF", err)
	}

	c.cache.AddGraph(outPath)
	return outPath, nil
}

// BuildTopFST constructs the fixed top-level FST every rule and dictation
// grammar hangs off of: one arc per rule slot from the initial state to a
// shared "return" state (labeled with that slot's non-terminal on both
// sides), an arc from "return" to the final state with an epsilon ilabel
// and olabel NontermEnd, and one
// direct initial→final arc per noise word the model defines (e.g. "!SIL"),
// so noise alone is a valid (silent) utterance.
func BuildTopFST(noiseWords []string) *wfst.WFST {
	w := wfst.New()
	initial := w.StartState()
	final := w.AddState(nil, false, true)
	ret := w.AddState(nil, false, false)

	for i := 0; i <= MaxRuleID; i++ {
		label := nontermRule(i)
		w.AddArc(initial, ret, &label, nil, nil)
	}
	endLabel := NontermEnd
	w.AddArc(ret, final, nil, &endLabel, nil)

	for _, noise := range noiseWords {
		w.AddArc(initial, final, &noise, nil, nil)
	}
	return w
}

// BuildUniversalGrammar constructs a single self-looping FST that accepts
// any sequence of words from the given vocabulary — a catch-all grammar
// useful for open dictation or "mimic" testing, not gated by any
// non-terminal.
func BuildUniversalGrammar(words []string) *wfst.WFST {
	w := wfst.New()
	state := w.AddState(nil, false, true)
	for _, word := range words {
		wCopy := word
		w.AddArc(w.StartState(), state, &wCopy, nil, nil)
		w.AddArc(state, state, &wCopy, nil, nil)
	}
	return w
}

// BuildPlainDictationFST and BuildAGFDictationFST both describe a
// single-state, fully-self-looping dictation grammar accepting an unbounded
// sequence of arbitrary lexicon words. The "plain" variant is a standalone
// HCLG with simplify_lg left false and no non-terminal wrapping, used when
// compiling dictation as its own standalone recognition network. The "AGF"
// variant is identical in FST shape but is compiled with nonterm=true so it
// can be dispatched into from the top FST like any other rule.
func BuildPlainDictationFST(words []string) *wfst.WFST {
	return BuildUniversalGrammar(words)
}

func BuildAGFDictationFST(words []string) *wfst.WFST {
	return BuildUniversalGrammar(words)
}
