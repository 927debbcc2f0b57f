package wfst

import (
	"strings"
	"testing"
)

func weightPtr(v float64) *float64 { return &v }
func labelPtr(s string) *string    { return &s }

func TestAddStateDefaults(t *testing.T) {
	w := New()
	nonFinal := w.AddState(nil, false, false)
	if w.IsStateFinal(nonFinal) {
		t.Error("non-final state reported as final")
	}
	final := w.AddState(nil, false, true)
	if !w.IsStateFinal(final) {
		t.Error("final state reported as non-final")
	}
}

func TestAddStateInitialAddsEpsArc(t *testing.T) {
	w := New()
	s := w.AddState(nil, true, false)
	if !w.HasEpsPath(w.StartState(), s) {
		t.Error("expected eps path from start state to new initial state")
	}
}

func TestAddArcDefaults(t *testing.T) {
	w := New()
	a := w.AddState(nil, false, false)
	b := w.AddState(nil, false, true)
	w.AddArc(a, b, nil, nil, nil)
	text := w.GetFSTText(false)
	if !strings.Contains(text, Eps+" "+Eps) {
		t.Errorf("expected default eps/eps arc in text, got %q", text)
	}
}

func TestGetFSTTextOrdering(t *testing.T) {
	w := New()
	s1 := w.AddState(nil, false, false)
	s2 := w.AddState(nil, false, true)
	word := "hello"
	w.AddArc(w.StartState(), s1, labelPtr(word), nil, nil)
	w.AddArc(s1, s2, labelPtr(word), nil, nil)

	text := w.GetFSTText(false)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 2 arc lines + 1 final line, got %d: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "0 ") {
		t.Errorf("first line should start from state 0, got %q", lines[0])
	}
	if lines[2] != "2 0.000000" {
		t.Errorf("final line = %q, want \"2 0.000000\" (weight 1 -> -ln(1) = 0)", lines[2])
	}
}

func TestGetFSTTextEps2Disambig(t *testing.T) {
	w := New()
	s := w.AddState(nil, false, true)
	w.AddArc(w.StartState(), s, nil, nil, nil)
	text := w.GetFSTText(true)
	if !strings.Contains(text, EpsDisambig) {
		t.Errorf("expected %q in text when eps2disambig is set, got %q", EpsDisambig, text)
	}
	if strings.Contains(text, Eps+" "+Eps) {
		t.Errorf("did not expect literal eps ilabel when eps2disambig is set, got %q", text)
	}
}

func TestGetFSTTextNonFinalWeight(t *testing.T) {
	w := New()
	// start state (id 0) is non-final by default and must not appear in the
	// final-states section.
	text := w.GetFSTText(false)
	if text != "" {
		t.Errorf("fresh WFST with no arcs/final states should serialize empty, got %q", text)
	}
}

func TestHasEpsPathStopsAtNonEps(t *testing.T) {
	w := New()
	a := w.AddState(nil, false, false)
	b := w.AddState(nil, false, false)
	w.AddArc(a, b, labelPtr("word"), nil, nil)
	if w.HasEpsPath(a, b) {
		t.Error("HasEpsPath should not cross a non-eps arc")
	}
}

func TestHasEpsPathMultiHop(t *testing.T) {
	w := New()
	a := w.AddState(nil, false, false)
	b := w.AddState(nil, false, false)
	c := w.AddState(nil, false, false)
	w.AddArc(a, b, nil, nil, nil)
	w.AddArc(b, c, labelPtr(EpsDisambig), nil, nil)
	if !w.HasEpsPath(a, c) {
		t.Error("expected multi-hop eps path through #0 to be found")
	}
}

func TestDoesMatchSimpleSentence(t *testing.T) {
	w := New()
	s1 := w.AddState(nil, false, false)
	s2 := w.AddState(nil, false, true)
	w.AddArc(w.StartState(), s1, labelPtr("hello"), nil, nil)
	w.AddArc(s1, s2, labelPtr("world"), nil, nil)

	out, ok := w.DoesMatch([]string{"hello", "world"}, nil, false)
	if !ok {
		t.Fatal("expected match")
	}
	if len(out) != 2 || out[0] != "hello" || out[1] != "world" {
		t.Errorf("DoesMatch output = %v, want [hello world]", out)
	}
}

func TestDoesMatchNoMatch(t *testing.T) {
	w := New()
	s1 := w.AddState(nil, false, true)
	w.AddArc(w.StartState(), s1, labelPtr("hello"), nil, nil)

	if _, ok := w.DoesMatch([]string{"goodbye"}, nil, false); ok {
		t.Error("expected no match for a word not accepted by any arc")
	}
}

func TestDoesMatchSkipsSilentLabels(t *testing.T) {
	w := New()
	s1 := w.AddState(nil, false, false)
	s2 := w.AddState(nil, false, true)
	w.AddArc(w.StartState(), s1, labelPtr(Silence), nil, nil)
	w.AddArc(s1, s2, labelPtr("hello"), nil, nil)

	out, ok := w.DoesMatch([]string{"hello"}, nil, false)
	if !ok {
		t.Fatal("expected match through silent arc")
	}
	if len(out) != 1 || out[0] != "hello" {
		t.Errorf("DoesMatch output = %v, want [hello] (silent label filtered)", out)
	}
}

func TestDoesMatchIncludeSilent(t *testing.T) {
	w := New()
	s1 := w.AddState(nil, false, false)
	s2 := w.AddState(nil, false, true)
	w.AddArc(w.StartState(), s1, labelPtr(Silence), nil, nil)
	w.AddArc(s1, s2, labelPtr("hello"), nil, nil)

	out, ok := w.DoesMatch([]string{"hello"}, nil, true)
	if !ok {
		t.Fatal("expected match through silent arc")
	}
	if len(out) != 2 || out[0] != Silence || out[1] != "hello" {
		t.Errorf("DoesMatch output = %v, want [%s hello] with includeSilent=true", out, Silence)
	}
}

func TestDoesMatchWildcardConsumesWords(t *testing.T) {
	w := New()
	s1 := w.AddState(nil, false, false)
	s2 := w.AddState(nil, false, true)
	w.AddArc(w.StartState(), s1, labelPtr("#nonterm:dictation"), nil, nil)
	w.AddArc(s1, s2, labelPtr("#nonterm:end"), nil, nil)

	out, ok := w.DoesMatch([]string{"anything", "goes", "here"}, []string{"#nonterm:dictation"}, false)
	if !ok {
		t.Fatal("expected wildcard to consume arbitrary words")
	}
	found := map[string]bool{}
	for _, o := range out {
		found[o] = true
	}
	for _, want := range []string{"anything", "goes", "here"} {
		if !found[want] {
			t.Errorf("expected consumed word %q in output %v", want, out)
		}
	}
}

func TestDoesMatchWildcardOlabelOncePerPath(t *testing.T) {
	w := New()
	s1 := w.AddState(nil, false, false)
	s2 := w.AddState(nil, false, true)
	w.AddArc(w.StartState(), s1, labelPtr("#nonterm:dictation"), labelPtr("#nonterm:dictation"), nil)
	w.AddArc(s1, s2, labelPtr("#nonterm:end"), nil, nil)

	out, ok := w.DoesMatch([]string{"one"}, []string{"#nonterm:dictation"}, true)
	if !ok {
		t.Fatal("expected match")
	}
	count := 0
	for _, o := range out {
		if o == "#nonterm:dictation" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected wildcard olabel recorded exactly once per path, got %d occurrences in %v", count, out)
	}
}

func TestGraphFilenameDeterministic(t *testing.T) {
	a := GraphFilename("some fst text")
	b := GraphFilename("some fst text")
	if a != b {
		t.Errorf("GraphFilename not deterministic: %q != %q", a, b)
	}
	c := GraphFilename("different text")
	if a == c {
		t.Error("GraphFilename collided for different inputs")
	}
	if !strings.HasSuffix(a, ".fst") {
		t.Errorf("GraphFilename(%q) missing .fst suffix", a)
	}
}

func TestLabelIsSilent(t *testing.T) {
	cases := map[string]bool{
		Eps:                 true,
		EpsDisambig:         true,
		Silence:             true,
		"#nonterm:rule0":    true,
		"#nonterm:end":      true,
		"hello":             false,
	}
	for label, want := range cases {
		if got := LabelIsSilent(label); got != want {
			t.Errorf("LabelIsSilent(%q) = %v, want %v", label, got, want)
		}
	}
}
