// Package wfst implements the in-memory weighted finite-state transducer
// data structure used to describe a single grammar rule: states, arcs,
// weights, textual serialization, and the reachability/matching queries the
// rule manager needs to parse decoder output.
//
// Weight is stored as a raw probability in [0,1] during construction and
// converted to negative-log-probability only at serialization time.
package wfst

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Special labels recognized by the matcher and serializer.
const (
	Eps         = "<eps>"
	EpsDisambig = "#0"
	Silence     = "!SIL"
)

// DefaultWeight is the implicit weight of an arc or final state when none is
// given.
const DefaultWeight = 1.0

// NonFinalSentinel is the raw-probability value stored for a non-final
// state: 0 means "non-existent"/non-final during construction, and is
// mapped to +Inf (never-final) on export.
const NonFinalSentinel = 0.0

// arc is one directed, labeled, weighted transition.
type arc struct {
	src, dst       int
	ilabel, olabel string
	weight         float64 // raw probability in [0,1]; 0 reserved meaning "unspecified" is never used for arcs (default is 1)
}

// WFST is a directed multigraph over integer state ids with weighted
// labeled arcs. Not safe for concurrent mutation — a Rule hands off a
// fully-built WFST to a compile worker as read-only text.
type WFST struct {
	arcsByState map[int][]arc
	stateOrder  []int // insertion order of states, for deterministic GetFSTText
	finalWeight map[int]float64
	nextState   int
	startState  int
}

// New returns a WFST with a single start state (id 0).
func New() *WFST {
	w := &WFST{}
	w.Clear()
	return w
}

// Clear resets the WFST to a single start state, discarding all arcs.
func (w *WFST) Clear() {
	w.arcsByState = make(map[int][]arc)
	w.stateOrder = nil
	w.finalWeight = make(map[int]float64)
	w.nextState = 0
	w.startState = w.addStateRaw(NonFinalSentinel)
}

// StartState returns the id of the start state (always 0).
func (w *WFST) StartState() int { return w.startState }

// NumStates returns the number of states.
func (w *WFST) NumStates() int { return len(w.stateOrder) }

// NumArcs returns the total number of arcs across all states.
func (w *WFST) NumArcs() int {
	n := 0
	for _, arcs := range w.arcsByState {
		n += len(arcs)
	}
	return n
}

func (w *WFST) addStateRaw(weight float64) int {
	id := w.nextState
	w.nextState++
	w.finalWeight[id] = weight
	w.stateOrder = append(w.stateOrder, id)
	return id
}

// AddState creates a new state and returns its id.
//
// weight is the raw final-probability in [0,1]; pass nil for the default
// (non-final, i.e. 0, unless final is true in which case the default is 1).
// If initial is true, an ε-arc from the start state to the new state is
// added in addition to returning the new state's id.
func (w *WFST) AddState(weight *float64, initial, final bool) int {
	var wt float64
	if weight == nil {
		if final {
			wt = DefaultWeight
		} else {
			wt = NonFinalSentinel
		}
	} else {
		wt = *weight
	}
	id := w.addStateRaw(wt)
	if initial {
		w.AddArc(w.startState, id, nil, nil, nil)
	}
	return id
}

// IsStateFinal reports whether state is final, i.e. its stored weight is
// not the non-final sentinel.
func (w *WFST) IsStateFinal(state int) bool {
	return w.finalWeight[state] != NonFinalSentinel
}

// AddArc adds a labeled, weighted arc from src to dst.
//
// A nil ilabel is replaced with Eps. A nil olabel mirrors ilabel. A nil
// weight defaults to 1.
func (w *WFST) AddArc(src, dst int, ilabel, olabel *string, weight *float64) {
	il := Eps
	if ilabel != nil {
		il = *ilabel
	}
	ol := il
	if olabel != nil {
		ol = *olabel
	}
	wt := DefaultWeight
	if weight != nil {
		wt = *weight
	}
	w.arcsByState[src] = append(w.arcsByState[src], arc{src: src, dst: dst, ilabel: il, olabel: ol, weight: wt})
}

// toNegLogWeight converts a raw probability to the exported weight: +Inf for
// 0 (non-existent/non-final), -ln(w) otherwise.
func toNegLogWeight(w float64) float64 {
	if w == 0 {
		return math.Inf(1)
	}
	return -math.Log(w)
}

func formatWeight(w float64) string {
	if math.IsInf(w, 1) {
		return "inf"
	}
	if w == 0 {
		w = 0 // -ln(1) is -0; print it as 0.000000
	}
	return strconv.FormatFloat(w, 'f', 6, 64)
}

// GetFSTText produces the deterministic textual encoding OpenFST's text
// format expects: one "src dst ilabel olabel weight" line per arc (grouped
// by src state in state-insertion order, arcs within a group in insertion
// order), followed by one "id weight" line per final state. When
// eps2disambig is true, an ilabel of Eps is emitted as EpsDisambig (used
// when compiling a rule fragment that will be linked via disambiguation
// symbols).
func (w *WFST) GetFSTText(eps2disambig bool) string {
	var b strings.Builder
	for _, state := range w.stateOrder {
		for _, a := range w.arcsByState[state] {
			ilabel := a.ilabel
			if eps2disambig && ilabel == Eps {
				ilabel = EpsDisambig
			}
			fmt.Fprintf(&b, "%d %d %s %s %s\n", a.src, a.dst, ilabel, a.olabel, formatWeight(toNegLogWeight(a.weight)))
		}
	}
	for _, state := range w.stateOrder {
		weight := w.finalWeight[state]
		if weight == NonFinalSentinel {
			continue
		}
		fmt.Fprintf(&b, "%d %s\n", state, formatWeight(toNegLogWeight(weight)))
	}
	return b.String()
}

// GraphFilename returns "<sha1-of-text>.fst" — the content-addressed
// artifact filename for the given FST text.
func GraphFilename(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:]) + ".fst"
}

// LabelIsSilent reports whether label should be treated as an ε-like
// transition by HasEpsPath/DoesMatch: Eps, EpsDisambig, Silence, or any
// "#nonterm"-prefixed label.
func LabelIsSilent(label string) bool {
	switch label {
	case Eps, EpsDisambig, Silence:
		return true
	}
	return strings.HasPrefix(label, "#nonterm")
}

// HasEpsPath reports whether there is a path from src to dst using only
// ε-like arcs (ilabel ∈ {Eps, EpsDisambig}). Uses BFS and never crosses
// non-terminal labels.
func (w *WFST) HasEpsPath(src, dst int) bool {
	if src == dst {
		return true
	}
	queue := []int{src}
	queued := map[int]bool{src: true}
	for len(queue) > 0 {
		state := queue[0]
		queue = queue[1:]
		for _, a := range w.arcsByState[state] {
			if a.ilabel != Eps && a.ilabel != EpsDisambig {
				continue
			}
			if a.dst == dst {
				return true
			}
			if !queued[a.dst] {
				queued[a.dst] = true
				queue = append(queue, a.dst)
			}
		}
	}
	return false
}

// matchState is one BFS queue entry for DoesMatch: the current FST state,
// the path of olabels recorded so far, and the index into target_words of
// the next word to consume.
type matchState struct {
	state     int
	path      []string
	wordIndex int
}

// DoesMatch returns the olabels along a matching path through the WFST for
// the given target word sequence, or (nil, false) if no such path exists.
// Uses BFS.
//
// wildcards lists ilabels (typically non-terminal markers such as
// "#nonterm:dictation") that may consume any number of words: for each
// wildcard arc the matcher both (a) accepts the current target word and
// loops in place, and (b) traverses the arc without consuming input,
// recording the wildcard's olabel at most once per path — membership is
// checked against the path accumulated so far, not a global seen-set, so
// the same wildcard can contribute its olabel again on a different path.
//
// Silent labels (Eps, EpsDisambig, Silence, or any "#nonterm"-prefixed
// label) are always traversed as ε-transitions. Returned olabels omit
// silent labels unless includeSilent is true.
func (w *WFST) DoesMatch(targetWords []string, wildcards []string, includeSilent bool) ([]string, bool) {
	isWildcard := make(map[string]bool, len(wildcards))
	for _, wc := range wildcards {
		isWildcard[wc] = true
	}

	queue := []matchState{{state: w.startState, path: nil, wordIndex: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var targetWord string
		haveTarget := cur.wordIndex < len(targetWords)
		if haveTarget {
			targetWord = targetWords[cur.wordIndex]
		}

		if !haveTarget && w.IsStateFinal(cur.state) {
			out := make([]string, 0, len(cur.path))
			for _, olabel := range cur.path {
				if includeSilent || !LabelIsSilent(olabel) {
					out = append(out, olabel)
				}
			}
			return out, true
		}

		for _, a := range w.arcsByState[cur.state] {
			switch {
			case haveTarget && a.ilabel == targetWord:
				queue = append(queue, matchState{state: a.dst, path: appendPath(cur.path, a.olabel), wordIndex: cur.wordIndex + 1})

			case isWildcard[a.ilabel]:
				path := cur.path
				if !containsString(path, a.olabel) {
					path = appendPath(path, a.olabel)
				}
				if haveTarget {
					// Accept current word and remain in the source state.
					queue = append(queue, matchState{state: a.src, path: appendPath(path, targetWord), wordIndex: cur.wordIndex + 1})
				}
				// Traverse without consuming input.
				queue = append(queue, matchState{state: a.dst, path: path, wordIndex: cur.wordIndex})

			case LabelIsSilent(a.ilabel):
				queue = append(queue, matchState{state: a.dst, path: appendPath(cur.path, a.olabel), wordIndex: cur.wordIndex})
			}
		}
	}
	return nil, false
}

func appendPath(path []string, label string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = label
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
