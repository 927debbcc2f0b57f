// Package rule implements the grammar rule lifecycle and the rule manager
// that allocates rule id slots, batches compilation and loading across all
// pending rules, and parses decoder output back into a rule plus its
// recognized words.
package rule

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/glyphoxa-grammar/internal/grammarerr"
	"github.com/MrWong99/glyphoxa-grammar/pkg/artifactcache"
	"github.com/MrWong99/glyphoxa-grammar/pkg/graphcompiler"
	"github.com/MrWong99/glyphoxa-grammar/pkg/wfst"
)

// state is a Rule's lifecycle flags, grouped so Rule's mutex protects them
// together.
type state struct {
	compiled      bool
	loaded        bool
	reloading     bool
	hasBeenLoaded bool
	destroyed     bool
}

// Rule is one grammar rule: a name, an id (its decoder slot, or -1 if this
// rule is never loaded as its own slot, e.g. the top FST), and the WFST
// that compiles to its HCLG graph.
type Rule struct {
	mu sync.Mutex

	manager      *Manager
	Name         string
	ID           int
	Nonterm      bool
	HasDictation bool

	fst      *wfst.WFST
	fstText  string
	filename string

	st state
}

func (r *Rule) identity() grammarerr.RuleIdentity {
	return grammarerr.RuleIdentity{Name: r.Name, ID: r.ID}
}

func (r *Rule) err(op string, err error) error {
	return grammarerr.WithRule(grammarerr.KindCompile, op, r.identity(), err)
}

// setFST installs w as the rule's in-memory WFST, to be serialized on the
// next Compile call.
func (r *Rule) setFST(w *wfst.WFST) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fst = w
}

// Compiled, Loaded, Destroyed report the rule's current lifecycle state.
func (r *Rule) Compiled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.compiled
}

func (r *Rule) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.loaded
}

func (r *Rule) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.destroyed
}

// Compile computes the rule's FST text and filename and either confirms an
// up-to-date cached graph exists, enqueues the rule for batched compilation
// (lazy), or compiles it immediately.
//
// Rules that share identical FST text are not compiled twice: queued
// compiles of the same text collapse onto one call in
// ProcessCompileAndLoadQueues, and a rule whose compile was collapsed is
// marked compiled by a cache check once that call has finished.
func (r *Rule) Compile(ctx context.Context, lazy bool) error {
	r.mu.Lock()
	if r.st.destroyed {
		r.mu.Unlock()
		return r.err("Compile", fmt.Errorf("rule is destroyed"))
	}
	if r.st.compiled {
		r.mu.Unlock()
		return nil
	}
	fst := r.fst
	r.mu.Unlock()
	if fst == nil {
		return r.err("Compile", fmt.Errorf("rule has no FST to compile"))
	}

	text := fst.GetFSTText(false)
	filename := artifactcache.GraphFilename(text)

	r.mu.Lock()
	r.fstText = text
	r.filename = filename
	r.mu.Unlock()

	outPath := r.manager.graphPath(filename)
	if r.manager.cache.GraphIsCurrent(outPath) {
		r.mu.Lock()
		r.st.compiled = true
		r.mu.Unlock()
		return nil
	}

	if lazy {
		return r.manager.enqueueCompile(r)
	}
	return r.FinishCompile(ctx)
}

// FinishCompile invokes the external graph compiler synchronously for this
// rule's current FST text, marking the rule compiled on success.
func (r *Rule) FinishCompile(ctx context.Context) error {
	r.mu.Lock()
	if r.st.destroyed {
		r.mu.Unlock()
		return r.err("FinishCompile", fmt.Errorf("rule is destroyed"))
	}
	text, nonterm := r.fstText, r.Nonterm
	r.mu.Unlock()

	// Every Rule is a command grammar; simplify_lg is only disabled for the
	// standalone dictation catch-all grammar, which compiles directly via
	// Compiler.CompileAGF rather than through a Rule.
	if _, err := r.manager.graphCompiler.CompileAGF(ctx, text, nonterm, true); err != nil {
		return r.err("FinishCompile", err)
	}

	r.mu.Lock()
	r.st.compiled = true
	r.mu.Unlock()
	return nil
}

// Load loads (or enqueues loading of) the rule's compiled graph into the
// decoder at its assigned slot. A rule already loaded once is reloaded via
// ReloadGrammarFST instead of AddGrammarFST.
func (r *Rule) Load(ctx context.Context, lazy bool) error {
	r.mu.Lock()
	if r.st.destroyed {
		r.mu.Unlock()
		return r.err("Load", fmt.Errorf("rule is destroyed"))
	}
	pendingCompile := !r.st.compiled
	r.mu.Unlock()

	if lazy || pendingCompile {
		return r.manager.enqueueLoad(r)
	}
	return r.doLoad(ctx)
}

func (r *Rule) doLoad(ctx context.Context) error {
	r.mu.Lock()
	if !r.st.compiled {
		r.mu.Unlock()
		return r.err("Load", fmt.Errorf("rule must be compiled before loading"))
	}
	hasBeenLoaded := r.st.hasBeenLoaded
	filename := r.filename
	r.mu.Unlock()

	path := r.manager.graphPath(filename)
	if hasBeenLoaded {
		if err := r.manager.decoder.ReloadGrammarFST(ctx, r.ID, path); err != nil {
			return r.err("Load", err)
		}
	} else {
		if err := r.manager.decoder.AddGrammarFST(ctx, r.ID, path); err != nil {
			return r.err("Load", err)
		}
	}

	r.mu.Lock()
	r.st.loaded = true
	r.st.hasBeenLoaded = true
	r.mu.Unlock()
	return nil
}

// Reload rebuilds the rule's WFST from scratch: build constructs the new
// WFST (typically via a fresh wfst.New() and a sequence of AddState/AddArc
// calls describing the rule's updated grammar), after which Reload recompiles
// and, if the rule was previously loaded, reloads it into the decoder. The
// reloading flag is always cleared on return, including on error, via defer.
func (r *Rule) Reload(ctx context.Context, lazy bool, build func() *wfst.WFST) (err error) {
	r.mu.Lock()
	if r.st.destroyed {
		r.mu.Unlock()
		return r.err("Reload", fmt.Errorf("rule is destroyed"))
	}
	wasLoaded := r.st.loaded
	r.st.reloading = true
	r.st.compiled = false
	r.st.loaded = false
	r.fst = nil
	r.fstText = ""
	r.filename = ""
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.st.reloading = false
		r.mu.Unlock()
	}()

	r.setFST(build())
	if err := r.Compile(ctx, lazy); err != nil {
		return err
	}

	r.mu.Lock()
	compiled := r.st.compiled
	r.mu.Unlock()

	switch {
	case compiled && wasLoaded:
		if err := r.doLoad(ctx); err != nil {
			return err
		}
	case wasLoaded:
		// Compilation was deferred to the batch queue; loading must wait
		// for it too.
		if err := r.manager.enqueueLoad(r); err != nil {
			return err
		}
	}
	return nil
}

// Destroy unloads the rule from the decoder (if loaded) or removes it from
// whichever compile/load queue it is pending in, then renumbers every rule
// with a higher id down by one so ids remain a dense [0, count) range, and
// frees the vacated top id.
func (r *Rule) Destroy(ctx context.Context) error {
	r.mu.Lock()
	if r.st.destroyed {
		r.mu.Unlock()
		return nil
	}
	loaded := r.st.loaded
	r.mu.Unlock()

	if err := r.manager.beginDestroy(r); err != nil {
		return err
	}

	if loaded {
		if err := r.manager.decoder.RemoveGrammarFST(ctx, r.ID); err != nil {
			return r.err("Destroy", err)
		}
	} else {
		r.manager.dequeue(r)
	}

	r.mu.Lock()
	r.st.destroyed = true
	r.mu.Unlock()

	r.manager.finishDestroy(r)
	return nil
}
