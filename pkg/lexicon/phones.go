package lexicon

import (
	"regexp"
	"strings"
)

// cmuToXSAMPA maps CMU/ARPABET phones (stress digit already stripped) to
// their XSAMPA equivalent. XSAMPA phones are one letter each; a two-letter
// entry here represents two separate XSAMPA phones unless the model's own
// phone set treats the pair atomically (see CMUToXSAMPAGeneric).
var cmuToXSAMPA = map[string]string{
	"AA": "A", "AE": "{", "AH": "V", "AO": "O", "AW": "aU", "AY": "aI",
	"B": "b", "CH": "tS", "D": "d", "DH": "D", "EH": "E", "ER": "3",
	"EY": "eI", "F": "f", "G": "g", "HH": "h", "IH": "I", "IY": "i",
	"JH": "dZ", "K": "k", "L": "l", "M": "m", "NG": "N", "N": "n",
	"OW": "oU", "OY": "OI", "P": "p", "R": "r", "SH": "S", "S": "s",
	"TH": "T", "T": "t", "UH": "U", "UW": "u", "V": "v", "W": "w",
	"Y": "j", "ZH": "Z", "Z": "z", "AX": "@",
}

// xsampaToCMU is the reverse of cmuToXSAMPA. Where two CMU phones map to the
// same XSAMPA symbol (there are none at present, but the mapping isn't
// injective in general) the later entry in cmuToXSAMPA's iteration wins;
// callers needing a canonical reverse lookup should not rely on exact
// CMU-phone round-tripping.
var xsampaToCMU = reverseMap(cmuToXSAMPA)

func reverseMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// XSAMPAToCMU returns the CMU/ARPABET phone for an XSAMPA phone, if known.
func XSAMPAToCMU(phone string) (string, bool) {
	p, ok := xsampaToCMU[phone]
	return p, ok
}

var splitStressedPhone = regexp.MustCompile(`('?).`)

// CMUToXSAMPAGeneric converts a CMU/ARPABET pronunciation to XSAMPA.
// Trailing stress digits (1 = primary stress, 0/2 = unstressed/secondary)
// are stripped before lookup; primary stress is re-encoded as a leading
// apostrophe on the resulting XSAMPA phone.
//
// When lexiconPhones is non-nil, a two-letter XSAMPA phone is kept atomic if
// it is itself a member of lexiconPhones (i.e. the model's phone set treats
// it as one phone); otherwise it is split into its constituent one-letter
// XSAMPA phones, each carrying the stress mark only on the first.
func CMUToXSAMPAGeneric(phones []string, lexiconPhones map[string]bool) []string {
	var out []string
	for _, phone := range phones {
		stress := false
		switch {
		case strings.HasSuffix(phone, "1"):
			phone = phone[:len(phone)-1]
			stress = true
		case strings.HasSuffix(phone, "0"), strings.HasSuffix(phone, "2"):
			phone = phone[:len(phone)-1]
		}
		mapped, ok := cmuToXSAMPA[phone]
		if !ok {
			// Unknown phone: pass through unchanged rather than panicking;
			// the caller (lexicon file generation) validates against the
			// model's phone set and reports a proper error.
			out = append(out, phone)
			continue
		}
		newPhone := mapped
		if stress {
			newPhone = "'" + mapped
		}
		if lexiconPhones != nil && lexiconPhones[newPhone] {
			out = append(out, newPhone)
			continue
		}
		for _, m := range splitStressedPhone.FindAllString(newPhone, -1) {
			out = append(out, m)
		}
	}
	return out
}

// MakePositionDependent tags each phone in phones with its position in the
// word: _S for a lone phone, _B/_I/_E for begin/middle/end of a
// multi-phone word.
func MakePositionDependent(phones []string) []string {
	switch len(phones) {
	case 0:
		return nil
	case 1:
		return []string{phones[0] + "_S"}
	}
	out := make([]string, 0, len(phones))
	out = append(out, phones[0]+"_B")
	for _, p := range phones[1 : len(phones)-1] {
		out = append(out, p+"_I")
	}
	out = append(out, phones[len(phones)-1]+"_E")
	return out
}

var positionSuffix = regexp.MustCompile(`_[SBIE]$`)

// MakePositionIndependent strips a _S/_B/_I/_E position tag from each phone.
func MakePositionIndependent(phones []string) []string {
	out := make([]string, len(phones))
	for i, p := range phones {
		out[i] = positionSuffix.ReplaceAllString(p, "")
	}
	return out
}
