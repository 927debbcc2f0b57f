// Package dictation implements the alternative-dictation bridge:
// substituting a cloud/alternative transcription for the text the local
// decoder produced inside a "#nonterm:dictation_cloud ... #nonterm:end"
// span, using word-alignment byte offsets to slice out exactly that span's
// audio.
package dictation

import (
	"context"
	"regexp"
	"strings"

	"github.com/MrWong99/glyphoxa-grammar/pkg/decoder"
)

// Transcriber converts one bounded span of raw audio into text, typically
// by calling out to a cloud speech-to-text API. A Transcriber that returns
// an empty string (with no error) signals "no better answer"; the original
// local-decoder text is kept in that case.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error)
}

// dictationSpanPrefix marks the start of a cloud-dictation span in decoder
// output; any non-terminal beginning with this prefix opens a span that
// nontermEnd closes.
const dictationSpanPrefix = "#nonterm:dictation_cloud"
const nontermEnd = "#nonterm:end"

// span is one located dictation region: its word-index and byte-offset
// bounds in the decoder's word alignment.
type span struct {
	indexStart, indexEnd   int
	offsetStart, offsetEnd int
}

// alternativeDictationPattern extracts the local-decoder text between a
// "#nonterm:dictation_cloud..." token and the following "#nonterm:end"
// token, mirroring compiler.py's alternative_dictation_regex (a lookbehind/
// lookahead pair); Go's RE2 has no lookaround, so this is implemented with
// an explicit capture group and a post-match trim instead.
var alternativeDictationPattern = regexp.MustCompile(`#nonterm:dictation_cloud\S*\s(.*?)\s#nonterm:end`)

// Bridge substitutes alternative transcriptions into parsedOutput for every
// cloud-dictation span, given the original audio buffer and decoder word
// alignment for the whole utterance. languageCode is passed through to the
// Transcriber. Any per-span error is swallowed and that span's original
// local-decoder text is kept, matching the original's catch-all
// except-and-log behaviour: a cloud dictation failure must never lose the
// local recognition result.
func Bridge(ctx context.Context, t Transcriber, parsedOutput string, audio []byte, alignment []decoder.WordAlignment, languageCode string) string {
	spans := locateSpans(alignment)
	if len(spans) == 0 {
		return parsedOutput
	}
	finalizeLastSpan(spans, alignment, len(audio))

	next := 0
	return alternativeDictationPattern.ReplaceAllStringFunc(parsedOutput, func(match string) string {
		sub := alternativeDictationPattern.FindStringSubmatch(match)
		origText := ""
		if len(sub) > 1 {
			origText = sub[1]
		}
		if next >= len(spans) {
			return match
		}
		sp := spans[next]
		next++

		if sp.offsetStart < 0 || sp.offsetEnd > len(audio) || sp.offsetStart >= sp.offsetEnd {
			return rebuild(match, origText)
		}
		clip := audio[sp.offsetStart:sp.offsetEnd]
		text, err := t.Transcribe(ctx, clip, languageCode)
		if err != nil || text == "" {
			return rebuild(match, origText)
		}
		return rebuild(match, text)
	})
}

// rebuild re-wraps replacement inside the matched non-terminal markers so
// the surrounding rule-output parser (which scans for #nonterm: tokens)
// still sees a well-formed span.
func rebuild(originalMatch, replacement string) string {
	start := strings.Index(originalMatch, dictationSpanPrefix)
	end := strings.LastIndex(originalMatch, nontermEnd)
	if start < 0 || end < 0 {
		return originalMatch
	}
	prefixEnd := strings.IndexByte(originalMatch[start:], ' ')
	if prefixEnd < 0 {
		return originalMatch
	}
	prefix := originalMatch[:start+prefixEnd+1]
	return prefix + replacement + " " + originalMatch[end:]
}

// locateSpans finds every cloud-dictation span in the word alignment: each
// run starting at a "#nonterm:dictation_cloud*" token and ending at the
// next "#nonterm:end" token at or after it.
func locateSpans(alignment []decoder.WordAlignment) []span {
	var spans []span
	for i, wa := range alignment {
		if !strings.HasPrefix(wa.Word, dictationSpanPrefix) {
			continue
		}
		endIdx := indexOfWord(alignment, nontermEnd, i)
		if endIdx < 0 {
			continue
		}
		spans = append(spans, span{
			indexStart:  i,
			offsetStart: wa.OffsetStart,
			indexEnd:    endIdx,
			offsetEnd:   alignment[endIdx].OffsetStart,
		})
	}
	return spans
}

func indexOfWord(alignment []decoder.WordAlignment, word string, from int) int {
	for i := from; i < len(alignment); i++ {
		if alignment[i].Word == word {
			return i
		}
	}
	return -1
}

// finalizeLastSpan extends the final span's end offset to the end of the
// audio buffer if its #nonterm:end is the last aligned token, or to the
// midpoint between the dictation's end and the next word's start
// otherwise — exactly the original's rule for picking a safe boundary when
// the decoder's own alignment doesn't give a precise "end of speech"
// marker for the last span.
func finalizeLastSpan(spans []span, alignment []decoder.WordAlignment, audioLen int) {
	last := &spans[len(spans)-1]
	if last.indexEnd == len(alignment)-1 {
		last.offsetEnd = audioLen
		return
	}
	nextWordTime := alignment[last.indexEnd+1].OffsetStart
	last.offsetEnd = (last.offsetEnd + nextWordTime) / 2
}
