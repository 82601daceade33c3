// Package postprocess tidies decoded model output before it reaches a client.
//
// Decoding already drops special token ids. Clean additionally removes any
// special token spelled out literally by a subword sequence, so user-facing
// text never carries tokenizer control markers.
package postprocess

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Clean removes tokenizer artifacts from text in three phases and returns the
// trimmed, NFC-normalized result:
//  1. Literal special-token removal
//  2. Control character removal
//  3. Whitespace normalization
func Clean(text string, specials ...string) string {
	text = removeSpecialTokens(text, specials)
	text = removeControlRunes(text)
	text = normalizeSpacing(text)
	return norm.NFC.String(strings.TrimSpace(text))
}

// --- Phase 1: special tokens ---

func removeSpecialTokens(text string, specials []string) string {
	for _, tok := range specials {
		if tok == "" {
			continue
		}
		text = strings.ReplaceAll(text, tok, " ")
	}
	return text
}

// --- Phase 2: control characters ---

// removeControlRunes drops C0/C1 controls and zero-width formatting runes
// that some vocabularies carry as standalone pieces. Line breaks survive.
func removeControlRunes(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		case r == '\u200b' || r == '\ufeff':
			return -1
		}
		return r
	}, text)
}

// --- Phase 3: whitespace ---

var (
	spaceRunRe       = regexp.MustCompile(`[ \p{Zs}]{2,}`)
	spaceBeforePunct = regexp.MustCompile(` +([.,;:!?])`)
)

// normalizeSpacing collapses runs of spaces and removes spaces that
// detokenization left in front of sentence punctuation.
func normalizeSpacing(text string) string {
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}
