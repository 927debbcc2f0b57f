// Package lexicon manages the pronunciation lexicon and its derived Kaldi
// artifacts: words.txt, align_lexicon.int, lexiconp_disambig.txt, and the
// compiled L_disambig.fst.
//
// Built around [symtab.Table] for the word↔id mapping, with external tool
// invocation via exec.CommandContext over a configured executable.
package lexicon

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/glyphoxa-grammar/internal/grammarerr"
	"github.com/MrWong99/glyphoxa-grammar/pkg/symtab"
)

// invalidWords are never eligible to be treated as lexicon words.
var invalidWords = map[string]bool{
	symtab.Eps: true, symtab.EpsDisambig: true, symtab.Unknown: true,
	symtab.Silence: true, "<s>": true, "</s>": true,
}

// Entry is one user-lexicon pronunciation: a word and its CMU/ARPABET
// phones (before XSAMPA conversion or position tagging).
type Entry struct {
	Word   string
	Phones []string
}

// ToolPaths names the external Kaldi command-line tools the model needs to
// rebuild L_disambig.fst. All are resolved via PATH unless given as
// absolute paths.
type ToolPaths struct {
	MakeLexiconFST string // default "make_lexicon_fst"
	FSTCompile     string // default "fstcompile"
	FSTAddSelfLoops string // default "fstaddselfloops"
	FSTArcSort     string // default "fstarcsort"
}

func (t ToolPaths) withDefaults() ToolPaths {
	if t.MakeLexiconFST == "" {
		t.MakeLexiconFST = "make_lexicon_fst"
	}
	if t.FSTCompile == "" {
		t.FSTCompile = "fstcompile"
	}
	if t.FSTAddSelfLoops == "" {
		t.FSTAddSelfLoops = "fstaddselfloops"
	}
	if t.FSTArcSort == "" {
		t.FSTArcSort = "fstarcsort"
	}
	return t
}

// Model owns the live lexicon files derived from a fixed base Kaldi model
// directory plus a user-editable vocabulary extension.
type Model struct {
	mu sync.Mutex

	modelDir string
	tools    ToolPaths

	words    *symtab.Table
	phoneSet map[string]bool // position-independent phones known to the model
	phoneIDs map[string]int  // position-dependent phone -> phone id (from phones.txt)

	nontermWordsOffset int // lowest id reserved for #nonterm: words

	userEntries []Entry // parsed user_lexicon.txt, in file order
}

// Open loads a Model from modelDir. wordsTable is the already-loaded base
// symbol table (words.txt); phoneIDs maps every position-dependent phone
// string (e.g. "k_S") to its phones.txt id; nontermWordsOffset is the id of
// "#nonterm_begin" in words.base.txt, the first id reserved for
// non-terminals.
func Open(modelDir string, wordsTable *symtab.Table, phoneIDs map[string]int, nontermWordsOffset int, tools ToolPaths) (*Model, error) {
	phoneSet := make(map[string]bool, len(phoneIDs))
	for p := range phoneIDs {
		phoneSet[stripPosition(p)] = true
	}

	m := &Model{
		modelDir:           modelDir,
		tools:              tools.withDefaults(),
		words:              wordsTable,
		phoneSet:           phoneSet,
		phoneIDs:           phoneIDs,
		nontermWordsOffset: nontermWordsOffset,
	}

	entries, err := readUserLexicon(m.userLexiconPath())
	if err != nil {
		return nil, grammarerr.New(grammarerr.KindConfig, "lexicon.Open", err)
	}
	m.userEntries = entries
	return m, nil
}

func stripPosition(phone string) string {
	return positionSuffix.ReplaceAllString(phone, "")
}

func (m *Model) userLexiconPath() string        { return filepath.Join(m.modelDir, "user_lexicon.txt") }
func (m *Model) wordsPath() string               { return filepath.Join(m.modelDir, "words.txt") }
func (m *Model) wordsBasePath() string           { return filepath.Join(m.modelDir, "words.base.txt") }
func (m *Model) alignLexiconPath() string        { return filepath.Join(m.modelDir, "align_lexicon.int") }
func (m *Model) alignLexiconBasePath() string     { return filepath.Join(m.modelDir, "align_lexicon.base.int") }
func (m *Model) lexiconpDisambigPath() string     { return filepath.Join(m.modelDir, "lexiconp_disambig.txt") }
func (m *Model) lexiconpDisambigBasePath() string { return filepath.Join(m.modelDir, "lexiconp_disambig.base.txt") }
func (m *Model) lexiconFSTPath() string           { return filepath.Join(m.modelDir, "L_disambig.fst") }

func readUserLexicon(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, Entry{Word: fields[0], Phones: fields[1:]})
	}
	return entries, scanner.Err()
}

func writeUserLexicon(path string, entries []Entry) error {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Word != sorted[j].Word {
			return sorted[i].Word < sorted[j].Word
		}
		return strings.Join(sorted[i].Phones, " ") < strings.Join(sorted[j].Phones, " ")
	})
	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "%s %s\n", e.Word, strings.Join(e.Phones, " "))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// AddWord adds word with an explicit CMU/ARPABET pronunciation. An
// identical (word, phones) entry already present is a no-op; a different
// pronunciation for an existing word is appended as an additional
// pronunciation variant (both are logged by the caller, not rejected).
// Automatic pronunciation generation (an external g2p model or an HTTP
// lexicon lookup) is not reimplemented here: callers must supply phones,
// for example from an offline g2p model.
func (m *Model) AddWord(word string, phones []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	word = strings.ToLower(word)
	for _, existing := range m.userEntries {
		if existing.Word == word && sameStrings(existing.Phones, phones) {
			return nil
		}
	}
	m.userEntries = append(m.userEntries, Entry{Word: word, Phones: phones})
	return writeUserLexicon(m.userLexiconPath(), m.userEntries)
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Reset clears every user-added pronunciation and regenerates the derived
// lexicon files from the base model alone.
func (m *Model) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.userEntries = nil
	err := writeUserLexicon(m.userLexiconPath(), nil)
	m.mu.Unlock()
	if err != nil {
		return grammarerr.New(grammarerr.KindConfig, "lexicon.Reset", err)
	}
	return m.GenerateLexiconFiles(ctx)
}

// GenerateLexiconFiles rewrites words.txt, align_lexicon.int, and
// lexiconp_disambig.txt by concatenating the base model files with one
// generated entry per user-lexicon word, then rebuilds L_disambig.fst via
// the external Kaldi tool pipeline.
func (m *Model) GenerateLexiconFiles(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxWordID, err := m.maxBaseWordID()
	if err != nil {
		return grammarerr.New(grammarerr.KindCompile, "lexicon.GenerateLexiconFiles", err)
	}

	type generated struct {
		word       string
		id         int
		posPhones  []string
	}
	gens := make([]generated, 0, len(m.userEntries))
	var unknown []string
	nextID := maxWordID
	for _, e := range m.userEntries {
		xsampa := CMUToXSAMPAGeneric(e.Phones, m.phoneSet)
		posPhones := MakePositionDependent(xsampa)
		for _, p := range posPhones {
			if !m.phoneSet[stripPosition(p)] {
				unknown = append(unknown, p)
			}
		}
		nextID++
		gens = append(gens, generated{word: e.Word, id: nextID, posPhones: posPhones})
	}
	if len(unknown) > 0 {
		return grammarerr.New(grammarerr.KindUsage, "lexicon.GenerateLexiconFiles",
			fmt.Errorf("unknown phones in user lexicon: %s", strings.Join(unknown, ", ")))
	}

	if err := m.appendGeneratedFile(m.wordsBasePath(), m.wordsPath(), func(w *bufio.Writer) error {
		for _, g := range gens {
			if _, err := fmt.Fprintf(w, "%s %d\n", g.word, g.id); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return grammarerr.New(grammarerr.KindCompile, "lexicon.GenerateLexiconFiles", err)
	}

	if err := m.appendGeneratedFile(m.alignLexiconBasePath(), m.alignLexiconPath(), func(w *bufio.Writer) error {
		for _, g := range gens {
			ids := make([]string, 0, len(g.posPhones))
			for _, p := range g.posPhones {
				ids = append(ids, strconv.Itoa(m.phoneIDs[p]))
			}
			if _, err := fmt.Fprintf(w, "%d %d %s\n", g.id, g.id, strings.Join(ids, " ")); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return grammarerr.New(grammarerr.KindCompile, "lexicon.GenerateLexiconFiles", err)
	}

	if err := m.appendGeneratedFile(m.lexiconpDisambigBasePath(), m.lexiconpDisambigPath(), func(w *bufio.Writer) error {
		for _, g := range gens {
			if _, err := fmt.Fprintf(w, "%s\t1.0 %s\n", g.word, strings.Join(g.posPhones, " ")); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return grammarerr.New(grammarerr.KindCompile, "lexicon.GenerateLexiconFiles", err)
	}

	if err := m.rebuildLexiconFST(ctx); err != nil {
		return err
	}
	return nil
}

func (m *Model) maxBaseWordID() (int, error) {
	f, err := os.Open(m.wordsBasePath())
	if err != nil {
		return 0, err
	}
	defer f.Close()
	maxID := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		if id < m.nontermWordsOffset && id > maxID {
			maxID = id
		}
	}
	return maxID, scanner.Err()
}

// appendGeneratedFile writes dstPath as the concatenation of basePath's
// contents with the lines produced by writeGenerated.
func (m *Model) appendGeneratedFile(basePath, dstPath string, writeGenerated func(*bufio.Writer) error) error {
	base, err := os.ReadFile(basePath)
	if err != nil {
		return err
	}
	tmp := dstPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(base); err != nil {
		f.Close()
		return err
	}
	if err := writeGenerated(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dstPath)
}

// rebuildLexiconFST shells out to the Kaldi lexicon-FST toolchain:
//
//	make_lexicon_fst lexiconp_disambig.txt
//	  | fstcompile --isymbols=phones.txt --osymbols=words.txt
//	  | fstaddselfloops wdisambig_phones.int wdisambig_words.int
//	  | fstarcsort --sort_type=olabel > L_disambig.fst
func (m *Model) rebuildLexiconFST(ctx context.Context) error {
	stage1 := exec.CommandContext(ctx, m.tools.MakeLexiconFST,
		"--left-context-phones=true",
		"--nonterminals="+filepath.Join(m.modelDir, "nonterminals.txt"),
		"--sil-prob=0.5", "--sil-phone=SIL", "--sil-disambig=#14",
		m.lexiconpDisambigPath())
	stage2 := exec.CommandContext(ctx, m.tools.FSTCompile,
		"--isymbols="+filepath.Join(m.modelDir, "phones.txt"),
		"--osymbols="+m.wordsPath(),
		"--keep_isymbols=false", "--keep_osymbols=false")
	stage3 := exec.CommandContext(ctx, m.tools.FSTAddSelfLoops,
		filepath.Join(m.modelDir, "wdisambig_phones.int"),
		filepath.Join(m.modelDir, "wdisambig_words.int"))
	stage4 := exec.CommandContext(ctx, m.tools.FSTArcSort, "--sort_type=olabel")

	out, err := runPipeline(stage1, stage2, stage3, stage4)
	if err != nil {
		return grammarerr.New(grammarerr.KindCompile, "lexicon.rebuildLexiconFST", err)
	}
	if err := os.WriteFile(m.lexiconFSTPath(), out, 0o644); err != nil {
		return grammarerr.New(grammarerr.KindCompile, "lexicon.rebuildLexiconFST", err)
	}
	return nil
}

// runPipeline wires cmds[i]'s stdout to cmds[i+1]'s stdin and returns the
// final command's stdout, matching a shell "a | b | c | d" pipeline.
func runPipeline(cmds ...*exec.Cmd) ([]byte, error) {
	for i := 0; i < len(cmds)-1; i++ {
		pipe, err := cmds[i].StdoutPipe()
		if err != nil {
			return nil, err
		}
		cmds[i+1].Stdin = pipe
	}
	stderrs := make([]*strings.Builder, len(cmds))
	for i, c := range cmds {
		stderrs[i] = &strings.Builder{}
		c.Stderr = stderrs[i]
	}
	last := cmds[len(cmds)-1]
	outPipe, err := last.StdoutPipe()
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(cmds)-1; i++ {
		if err := cmds[i].Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", cmds[i].Path, err)
		}
	}
	if err := last.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", last.Path, err)
	}

	buf := make([]byte, 0, 64*1024)
	readBuf := make([]byte, 32*1024)
	for {
		n, rerr := outPipe.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
		}
		if rerr != nil {
			break
		}
	}

	var firstErr error
	for i, c := range cmds {
		if err := c.Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w: %s", c.Path, err, strings.TrimSpace(stderrs[i].String()))
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return buf, nil
}

// SuggestWord returns the candidate word in the model's vocabulary most
// phonetically/orthographically similar to word, using Jaro-Winkler
// similarity, for surfacing "did you mean" hints when a requested word is
// out of vocabulary.
func (m *Model) SuggestWord(word string) (string, float64) {
	m.mu.Lock()
	candidates := m.words.Words()
	m.mu.Unlock()

	best, bestScore := "", -1.0
	for _, c := range candidates {
		if invalidWords[c] || strings.HasPrefix(c, "#nonterm") {
			continue
		}
		score := matchr.JaroWinkler(word, c, true)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}
