// Package symtab provides a bidirectional word↔id symbol table, loaded from
// the Kaldi-style text format ("word id" per line) and extensible at
// runtime for user-added vocabulary and non-terminal reservations.
//
package symtab

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/glyphoxa-grammar/internal/grammarerr"
)

// Reserved words of a base model word list. Load requires only Eps, at id 0;
// it does not check that the others are present.
const (
	Eps             = "<eps>"
	EpsDisambig     = "#0"
	Silence         = "!SIL"
	Unknown         = "<unk>"
	NontermBegin    = "#nonterm_begin"
	NontermEnd      = "#nonterm_end"
	NontermDictation = "#nonterm:dictation"
)

// Table is a bidirectional map word ⇄ integer id, plus the highest
// non-terminal-exclusive id seen so far. Safe for concurrent use.
type Table struct {
	mu          sync.RWMutex
	wordToID    map[string]int
	idToWord    map[int]string
	maxTermWord int // highest id among non-"#nonterm"-prefixed words
}

// New returns an empty Table. Callers typically use [Load] instead.
func New() *Table {
	return &Table{
		wordToID: make(map[string]int),
		idToWord: make(map[int]string),
	}
}

// Load parses a Kaldi-style symbol table file: UTF-8, one "word id" pair per
// line separated by any whitespace. No comments or blank lines are
// permitted.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, grammarerr.New(grammarerr.KindConfig, "symtab.Load", err)
	}
	defer f.Close()

	t := New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil, grammarerr.New(grammarerr.KindConfig, "symtab.Load",
				fmt.Errorf("%s:%d: blank line", path, lineNo))
		}
		if len(fields) != 2 {
			return nil, grammarerr.New(grammarerr.KindConfig, "symtab.Load",
				fmt.Errorf("%s:%d: expected \"word id\", got %q", path, lineNo, line))
		}
		word := fields[0]
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, grammarerr.New(grammarerr.KindConfig, "symtab.Load",
				fmt.Errorf("%s:%d: invalid id %q: %w", path, lineNo, fields[1], err))
		}
		if err := t.addWordLocked(word, id); err != nil {
			return nil, grammarerr.New(grammarerr.KindConfig, "symtab.Load", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, grammarerr.New(grammarerr.KindConfig, "symtab.Load", err)
	}
	if _, ok := t.wordToID[Eps]; !ok || t.wordToID[Eps] != 0 {
		return nil, grammarerr.New(grammarerr.KindConfig, "symtab.Load",
			fmt.Errorf("%s: missing required reserved symbol %q at id 0", path, Eps))
	}
	return t, nil
}

func (t *Table) addWordLocked(word string, id int) error {
	if existingID, ok := t.wordToID[word]; ok && existingID != id {
		return fmt.Errorf("duplicate word %q with conflicting id (%d != %d)", word, existingID, id)
	}
	if existingWord, ok := t.idToWord[id]; ok && existingWord != word {
		return fmt.Errorf("duplicate id %d for words %q and %q", id, existingWord, word)
	}
	t.wordToID[word] = id
	t.idToWord[id] = word
	if !strings.HasPrefix(word, "#nonterm") && id > t.maxTermWord {
		t.maxTermWord = id
	}
	return nil
}

// AddWord inserts word with the given id, or — when id is nil — the next
// free id above the highest known non-terminal-exclusive id. Returns the
// assigned id. A duplicate id for a different word is fatal.
func (t *Table) AddWord(word string, id *int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	assigned := 0
	if id != nil {
		assigned = *id
	} else {
		t.maxTermWord++
		assigned = t.maxTermWord
	}
	if err := t.addWordLocked(word, assigned); err != nil {
		return 0, grammarerr.New(grammarerr.KindUsage, "symtab.AddWord", err)
	}
	return assigned, nil
}

// Contains reports whether word is present in the table.
func (t *Table) Contains(word string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.wordToID[word]
	return ok
}

// Lookup returns the id for word and whether it was found.
func (t *Table) Lookup(word string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.wordToID[word]
	return id, ok
}

// Reverse returns the word for id and whether it was found.
func (t *Table) Reverse(id int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	word, ok := t.idToWord[id]
	return word, ok
}

// MaxTermWordID returns the highest id assigned to a non-"#nonterm"-prefixed
// word. Used by the lexicon manager to allocate ids for new user words below
// the non-terminal block.
func (t *Table) MaxTermWordID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxTermWord
}

// Words returns a snapshot of all words currently in the table.
func (t *Table) Words() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	words := make([]string, 0, len(t.wordToID))
	for w := range t.wordToID {
		words = append(words, w)
	}
	return words
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.wordToID)
}
