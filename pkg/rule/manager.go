package rule

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/glyphoxa-grammar/internal/grammarerr"
	"github.com/MrWong99/glyphoxa-grammar/internal/observe"
	"github.com/MrWong99/glyphoxa-grammar/pkg/artifactcache"
	"github.com/MrWong99/glyphoxa-grammar/pkg/decoder"
	"github.com/MrWong99/glyphoxa-grammar/pkg/dictation"
	"github.com/MrWong99/glyphoxa-grammar/pkg/graphcompiler"
	"github.com/MrWong99/glyphoxa-grammar/pkg/wfst"
)

// MaxRuleID bounds the dense id space the decoder's non-terminal dispatch
// table supports (always 1000 slots, 0..999).
const MaxRuleID = graphcompiler.MaxRuleID

// WildcardNonterms lists the non-terminal labels the matcher treats as
// word-consuming wildcards when parsing decoder output for a single rule in
// isolation.
var WildcardNonterms = []string{"#nonterm:dictation", "#nonterm:dictation_cloud"}

// Manager owns rule id allocation, the compile and load work queues, and
// parses decoder output back into (rule, words) pairs.
//
// Compilation runs on a bounded worker pool (golang.org/x/sync/errgroup),
// and duplicate-content compiles collapse onto one in-flight call via
// golang.org/x/sync/singleflight; a rule whose compile was collapsed onto
// another's is marked compiled once the shared graph is in the cache. Each
// dispatched compile job gets a
// github.com/google/uuid correlation id attached to its log lines and
// trace span.
type Manager struct {
	mu sync.Mutex

	decoder       decoder.Decoder
	graphCompiler *graphcompiler.Compiler
	cache         *artifactcache.Cache
	tmpDir        string
	workers       int

	rules      map[int]*Rule
	nextID     int
	numRules   int
	compiling  map[int]bool // rule ids currently dispatched to a compile worker; Destroy on these is rejected

	compileQueue []*Rule
	loadQueue    []*Rule

	sf     singleflight.Group
	logger *slog.Logger
}

// Config configures a new Manager.
type Config struct {
	Decoder       decoder.Decoder
	GraphCompiler *graphcompiler.Compiler
	Cache         *artifactcache.Cache
	TmpDir        string
	Workers       int // bounded compile-worker concurrency; defaults to 4 if <= 0
	Logger        *slog.Logger
}

// NewManager returns a Manager ready to allocate and compile rules.
func NewManager(cfg Config) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		decoder:       cfg.Decoder,
		graphCompiler: cfg.GraphCompiler,
		cache:         cfg.Cache,
		tmpDir:        cfg.TmpDir,
		workers:       workers,
		rules:         make(map[int]*Rule),
		compiling:     make(map[int]bool),
		logger:        logger,
	}
}

func (m *Manager) graphPath(filename string) string {
	return filepath.Join(m.tmpDir, filename)
}

// allocRuleID returns the next free rule slot: simply the count of rules
// allocated so far, since ids stay dense via Destroy's renumbering.
func (m *Manager) allocRuleID() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numRules > MaxRuleID {
		return 0, grammarerr.New(grammarerr.KindUsage, "rule.allocRuleID", fmt.Errorf("exceeded max rule id %d", MaxRuleID))
	}
	id := m.numRules
	m.numRules++
	return id, nil
}

func (m *Manager) freeRuleID() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numRules--
}

// NewRule allocates a rule id and registers a new, not-yet-compiled Rule.
// Pass nonterm=false for rules that never occupy a decoder slot (e.g. the
// top FST).
func (m *Manager) NewRule(name string, nonterm, hasDictation bool) (*Rule, error) {
	id := -1
	if nonterm {
		allocated, err := m.allocRuleID()
		if err != nil {
			return nil, err
		}
		id = allocated
	}
	r := &Rule{manager: m, Name: name, ID: id, Nonterm: nonterm, HasDictation: hasDictation}
	if nonterm {
		m.mu.Lock()
		m.rules[id] = r
		m.mu.Unlock()
	}
	return r, nil
}

func (m *Manager) enqueueCompile(r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compileQueue = append(m.compileQueue, r)
	return nil
}

func (m *Manager) enqueueLoad(r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadQueue = append(m.loadQueue, r)
	return nil
}

func (m *Manager) dequeue(r *Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compileQueue = removeRule(m.compileQueue, r)
	m.loadQueue = removeRule(m.loadQueue, r)
}

func removeRule(queue []*Rule, r *Rule) []*Rule {
	out := queue[:0]
	for _, q := range queue {
		if q != r {
			out = append(out, q)
		}
	}
	return out
}

// beginDestroy rejects destruction of a rule currently dispatched to a
// compile worker, rather than blocking or cancelling the in-flight compile.
func (m *Manager) beginDestroy(r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compiling[r.ID] {
		return r.err("Destroy", fmt.Errorf("rule is currently compiling"))
	}
	return nil
}

// finishDestroy renumbers every rule with a higher id down by one so ids
// remain a dense [0, count) range. The decoder's own slots are not touched
// here — RemoveGrammarFST has already freed r.ID before this is called;
// callers that load rules by id must re-Load any renumbered rule so the
// decoder's slot assignment matches the new ids.
func (m *Manager) finishDestroy(r *Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID < 0 {
		return
	}
	delete(m.rules, r.ID)
	renumbered := make(map[int]*Rule, len(m.rules))
	for id, other := range m.rules {
		if id > r.ID {
			other.mu.Lock()
			other.ID = id - 1
			other.mu.Unlock()
			renumbered[id-1] = other
		} else {
			renumbered[id] = other
		}
	}
	m.rules = renumbered
	m.numRules--
}

// ProcessCompileAndLoadQueues compiles every pending rule concurrently
// (bounded by Config.Workers), then loads every pending rule in strict
// ascending id order — the decoder expects the i-th grammar added to land
// in slot i, so load order must track id allocation order exactly even
// though compilation itself finishes in arbitrary order.
func (m *Manager) ProcessCompileAndLoadQueues(ctx context.Context) error {
	m.mu.Lock()
	compileBatch := m.compileQueue
	m.compileQueue = nil
	m.mu.Unlock()

	if len(compileBatch) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.workers)
		for _, r := range compileBatch {
			r := r
			m.mu.Lock()
			m.compiling[r.ID] = true
			m.mu.Unlock()
			jobID := uuid.New().String()
			g.Go(func() error {
				defer func() {
					m.mu.Lock()
					delete(m.compiling, r.ID)
					m.mu.Unlock()
				}()
				jobCtx, span := observe.StartSpan(gctx, "rule.compile",
					trace.WithAttributes(
						attribute.String("job_id", jobID),
						attribute.String("rule", r.Name),
						attribute.Int("rule_id", r.ID),
					))
				defer span.End()

				r.mu.Lock()
				filename := r.filename
				r.mu.Unlock()
				log := m.logger.With("job_id", jobID, "rule", r.Name, "rule_id", r.ID)
				log.Debug("compile job starting")
				_, err, _ := m.sf.Do(filename, func() (any, error) {
					return nil, r.FinishCompile(jobCtx)
				})
				if err == nil && !r.Compiled() && m.cache.GraphIsCurrent(m.graphPath(filename)) {
					// r shared another rule's in-flight compile of the same
					// text; the graph that compile produced is now cached.
					r.mu.Lock()
					r.st.compiled = true
					r.mu.Unlock()
				}
				if err != nil {
					log.Error("compile job failed", "error", err)
					span.RecordError(err)
				} else {
					log.Debug("compile job finished")
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	loadBatch := m.loadQueue
	m.loadQueue = nil
	m.mu.Unlock()

	sortRulesByID(loadBatch)
	for _, r := range loadBatch {
		if err := r.doLoad(ctx); err != nil {
			return err
		}
	}
	return nil
}

func sortRulesByID(rules []*Rule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j-1].ID > rules[j].ID; j-- {
			rules[j-1], rules[j] = rules[j], rules[j-1]
		}
	}
}

// PrepareForRecognition flushes both work queues if either holds pending
// rules, then saves the artifact cache if it has unsaved changes.
func (m *Manager) PrepareForRecognition(ctx context.Context) error {
	m.mu.Lock()
	pending := len(m.compileQueue) > 0 || len(m.loadQueue) > 0
	m.mu.Unlock()

	if pending {
		if err := m.ProcessCompileAndLoadQueues(ctx); err != nil {
			return err
		}
	}
	if m.cache.Dirty() {
		return m.cache.Save()
	}
	return nil
}

// ParsedOutput is the result of parsing one final decoder utterance.
type ParsedOutput struct {
	Rule              *Rule
	Words             []string
	WordsAreDictation []bool
}

// ParseOutput decodes one final decoder utterance: extracts the dispatching
// rule from its leading "#nonterm:ruleN" token, optionally runs the
// alternative-dictation bridge over any cloud-dictation span, and splits
// the remaining tokens into words plus a per-word "is this inside a
// dictation span" mask.
//
// wordAlign, when non-nil, supplies the word-level alignment (and the
// audio it was computed from) needed to run the alternative-dictation
// bridge; pass a nil func to skip alternative dictation entirely.
func (m *Manager) ParseOutput(ctx context.Context, output string, noiseWords map[string]bool, transcriber dictation.Transcriber, languageCode string, wordAlign func() ([]byte, []decoder.WordAlignment, error)) (*ParsedOutput, error) {
	if output == "" || noiseWords[output] {
		return &ParsedOutput{}, nil
	}

	nontermToken, rest, _ := strings.Cut(output, " ")
	const rulePrefix = "#nonterm:rule"
	if !strings.HasPrefix(nontermToken, rulePrefix) {
		return nil, grammarerr.New(grammarerr.KindDecoder, "rule.ParseOutput", fmt.Errorf("unexpected leading token %q", nontermToken))
	}
	id, err := strconv.Atoi(strings.TrimPrefix(nontermToken, rulePrefix))
	if err != nil {
		return nil, grammarerr.New(grammarerr.KindDecoder, "rule.ParseOutput", fmt.Errorf("invalid rule id in %q: %w", nontermToken, err))
	}

	m.mu.Lock()
	r, ok := m.rules[id]
	m.mu.Unlock()
	if !ok {
		return nil, grammarerr.New(grammarerr.KindDecoder, "rule.ParseOutput", fmt.Errorf("unknown rule id %d", id))
	}

	parsed := rest
	if transcriber != nil && r.HasDictation && wordAlign != nil && strings.Contains(parsed, "#nonterm:dictation_cloud") {
		audio, alignment, err := wordAlign()
		if err == nil {
			parsed = dictation.Bridge(ctx, transcriber, parsed, audio, alignment, languageCode)
		} else {
			m.logger.Warn("alternative dictation word alignment unavailable, keeping local decode", "rule", r.Name, "error", err)
		}
	}

	words, mask := splitDictationMask(parsed)
	return &ParsedOutput{Rule: r, Words: words, WordsAreDictation: mask}, nil
}

// splitDictationMask walks parsedOutput's space-separated tokens, toggling
// an "in dictation span" flag on #nonterm:dictation* / #nonterm:end
// markers and recording it against every ordinary word.
func splitDictationMask(parsedOutput string) ([]string, []bool) {
	var words []string
	var mask []bool
	inDictation := false
	for _, word := range strings.Fields(parsedOutput) {
		switch {
		case strings.HasPrefix(word, "#nonterm:dictation"):
			inDictation = true
		case inDictation && word == "#nonterm:end":
			inDictation = false
		case strings.HasPrefix(word, "#nonterm:"):
			// other non-terminals don't affect the dictation mask
		default:
			words = append(words, word)
			mask = append(mask, inDictation)
		}
	}
	return words, mask
}

// ParsePartialOutput mirrors ParseOutput for in-progress (partial) decoder
// output: no alternative-dictation substitution is attempted (the audio
// span isn't final yet), and the current in-dictation state is returned
// alongside the parsed words.
func (m *Manager) ParsePartialOutput(output string, noiseWords map[string]bool) (*ParsedOutput, bool, error) {
	if output == "" || noiseWords[output] {
		return &ParsedOutput{}, false, nil
	}
	nontermToken, rest, _ := strings.Cut(output, " ")
	const rulePrefix = "#nonterm:rule"
	if !strings.HasPrefix(nontermToken, rulePrefix) {
		return nil, false, grammarerr.New(grammarerr.KindDecoder, "rule.ParsePartialOutput", fmt.Errorf("unexpected leading token %q", nontermToken))
	}
	id, err := strconv.Atoi(strings.TrimPrefix(nontermToken, rulePrefix))
	if err != nil {
		return nil, false, grammarerr.New(grammarerr.KindDecoder, "rule.ParsePartialOutput", fmt.Errorf("invalid rule id in %q: %w", nontermToken, err))
	}
	m.mu.Lock()
	r, ok := m.rules[id]
	m.mu.Unlock()
	if !ok {
		return nil, false, grammarerr.New(grammarerr.KindDecoder, "rule.ParsePartialOutput", fmt.Errorf("unknown rule id %d", id))
	}
	words, mask := splitDictationMask(rest)
	inDictation := len(mask) > 0 && mask[len(mask)-1]
	return &ParsedOutput{Rule: r, Words: words, WordsAreDictation: mask}, inDictation, nil
}

// ParseOutputForRule matches output directly against a single rule's WFST
// via DoesMatch, bypassing the decoder's own non-terminal token output.
// Used for offline "mimic" testing against a rule that was never actually
// loaded into a decoder.
func ParseOutputForRule(fst *wfst.WFST, output string) ([]string, bool) {
	labels, ok := fst.DoesMatch(strings.Fields(output), WildcardNonterms, false)
	if !ok {
		return nil, false
	}
	words := make([]string, 0, len(labels))
	for _, label := range labels {
		if !strings.HasPrefix(label, "#nonterm:") {
			words = append(words, label)
		}
	}
	return words, true
}
