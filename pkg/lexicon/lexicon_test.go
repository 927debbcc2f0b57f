package lexicon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/glyphoxa-grammar/pkg/symtab"
)

func writeModelFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// newTestModel builds a minimal model directory with base lexicon files and
// a symbol table covering a couple of position-dependent phones.
func newTestModel(t *testing.T) (*Model, string) {
	t.Helper()
	dir := t.TempDir()

	writeModelFile(t, dir, "words.base.txt", "<eps> 0\nhello 1\n#nonterm_begin 100\n")
	writeModelFile(t, dir, "align_lexicon.base.int", "1 1 5 6\n")
	writeModelFile(t, dir, "lexiconp_disambig.base.txt", "hello\t1.0 h_B E_E\n")
	writeModelFile(t, dir, "nonterminals.txt", "#nonterm_begin\n")
	writeModelFile(t, dir, "phones.txt", "<eps> 0\nh_B 5\nE_E 6\nk_S 7\nt_B 8\nE_I 9\nl_I 10\nk_E 11\nw_B 12\nO_I 13\n")
	writeModelFile(t, dir, "wdisambig_phones.int", "")
	writeModelFile(t, dir, "wdisambig_words.int", "")

	words := symtab.New()
	for _, w := range []string{"<eps>", "hello"} {
		id := 0
		switch w {
		case "hello":
			id = 1
		}
		if _, err := words.AddWord(w, &id); err != nil {
			t.Fatalf("AddWord(%s): %v", w, err)
		}
	}

	phoneIDs := map[string]int{
		"h_B": 5, "E_E": 6, "k_S": 7, "t_B": 8, "E_I": 9, "l_I": 10, "k_E": 11,
		"w_B": 12, "O_I": 13,
	}

	// "true" ignores its arguments, exits 0, and writes nothing to stdout —
	// enough to exercise the pipeline wiring without needing the real Kaldi
	// toolchain on PATH.
	m, err := Open(dir, words, phoneIDs, 100, ToolPaths{
		MakeLexiconFST:  "true",
		FSTCompile:      "true",
		FSTAddSelfLoops: "true",
		FSTArcSort:      "true",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m, dir
}

func TestAddWordPersistsToUserLexicon(t *testing.T) {
	m, dir := newTestModel(t)
	if err := m.AddWord("kettle", []string{"K", "EH1", "T", "AH0", "L"}); err != nil {
		t.Fatalf("AddWord: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "user_lexicon.txt"))
	if err != nil {
		t.Fatalf("read user_lexicon.txt: %v", err)
	}
	if !strings.Contains(string(data), "kettle") {
		t.Errorf("expected user_lexicon.txt to contain the new word, got %q", data)
	}
}

func TestAddWordDuplicateIsNoOp(t *testing.T) {
	m, dir := newTestModel(t)
	phones := []string{"K", "EH1", "T", "L"}
	if err := m.AddWord("kettle", phones); err != nil {
		t.Fatalf("AddWord: %v", err)
	}
	if err := m.AddWord("kettle", phones); err != nil {
		t.Fatalf("AddWord (2nd): %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "user_lexicon.txt"))
	if strings.Count(string(data), "kettle") != 1 {
		t.Errorf("expected exactly one kettle entry after duplicate add, got %q", data)
	}
}

func TestGenerateLexiconFilesAppendsToBase(t *testing.T) {
	m, dir := newTestModel(t)
	if err := m.AddWord("walk", []string{"W", "AO0", "K"}); err != nil {
		t.Fatalf("AddWord: %v", err)
	}
	if err := m.GenerateLexiconFiles(context.Background()); err != nil {
		t.Fatalf("GenerateLexiconFiles: %v", err)
	}

	words, err := os.ReadFile(filepath.Join(dir, "words.txt"))
	if err != nil {
		t.Fatalf("read words.txt: %v", err)
	}
	if !strings.Contains(string(words), "hello 1") {
		t.Error("expected base words.txt contents preserved")
	}
	if !strings.Contains(string(words), "walk 2") {
		t.Errorf("expected generated word id 2 (highest terminal base id 1, plus 1) in words.txt, got %q", words)
	}
}

func TestGenerateLexiconFilesRejectsUnknownPhone(t *testing.T) {
	m, _ := newTestModel(t)
	// "ZH" maps to XSAMPA "Z", which is not among the phones registered in
	// this test's phoneIDs map, so it must be reported as unknown.
	if err := m.AddWord("measure", []string{"M", "EH1", "ZH", "ER0"}); err != nil {
		t.Fatalf("AddWord: %v", err)
	}
	if err := m.GenerateLexiconFiles(context.Background()); err == nil {
		t.Fatal("expected error for unknown phone")
	}
}

func TestResetClearsUserLexicon(t *testing.T) {
	m, dir := newTestModel(t)
	if err := m.AddWord("walk", []string{"W", "AO0", "K"}); err != nil {
		t.Fatalf("AddWord: %v", err)
	}
	if err := m.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "user_lexicon.txt"))
	if err != nil {
		t.Fatalf("read user_lexicon.txt: %v", err)
	}
	if strings.TrimSpace(string(data)) != "" {
		t.Errorf("expected empty user_lexicon.txt after Reset, got %q", data)
	}
}

func TestSuggestWordFindsClosestMatch(t *testing.T) {
	m, _ := newTestModel(t)
	best, score := m.SuggestWord("helo")
	if best != "hello" {
		t.Errorf("SuggestWord(helo) = %q, want %q", best, "hello")
	}
	if score <= 0 {
		t.Errorf("expected positive similarity score, got %v", score)
	}
}
