package transcript

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Casing repair for the batch backend, which returns lowercase text.
// Conversation lines get sentence-start capitals and an uppercase pronoun I;
// abbreviations, decimals, and dotted tokens like hostnames are left alone.

// nonTerminalAbbrevs are tokens whose trailing period does not end a
// sentence in conversational speech.
var nonTerminalAbbrevs = map[string]bool{
	"e.g":  true,
	"i.e":  true,
	"etc":  true,
	"vs":   true,
	"cf":   true,
	"dr":   true,
	"mr":   true,
	"mrs":  true,
	"ms":   true,
	"prof": true,
	"jr":   true,
	"sr":   true,
	"min":  true,
	"mins": true,
	"hr":   true,
	"hrs":  true,
	"sec":  true,
}

// keepLowercase are abbreviations that stay lowercase even when a
// capitalization pass lands on them.
var keepLowercase = map[string]bool{
	"e.g": true,
	"i.e": true,
	"etc": true,
	"vs":  true,
}

var pronounI = regexp.MustCompile(`\bi(?:['’](?:m|d|ll|ve|re|s))?\b`)

func normalizeCase(text string) string {
	return capitalizePronounI(capitalizeSentences(text))
}

// capitalizeSentences uppercases the first letter of the text and of every
// word that follows a sentence-ending period, exclamation, or question mark.
// A word is only treated as a sentence start when whitespace separates it
// from the boundary, so glued tokens keep their casing.
func capitalizeSentences(text string) string {
	runes := []rune(text)

	pending := true // waiting for the next sentence-start letter
	spaced := true  // whitespace seen since the boundary; the text start counts

	for i, r := range runes {
		switch {
		case unicode.IsLetter(r):
			if pending && spaced && !keepLowercase[tokenForward(runes, i)] {
				runes[i] = unicode.ToUpper(r)
			}
			pending = false
		case unicode.IsDigit(r):
			pending = false
		case unicode.IsSpace(r):
			if pending {
				spaced = true
			}
		case r == '.':
			pending = endsSentence(runes, i)
			spaced = false
		case r == '!' || r == '?':
			pending = true
			spaced = false
		case isClosingMark(r):
			// Quotes and brackets may sit between the boundary and the
			// next sentence: keep waiting.
		default:
			if pending && !spaced {
				pending = false
			}
		}
	}

	return string(runes)
}

// endsSentence reports whether the period at runes[i] terminates a sentence.
func endsSentence(runes []rune, i int) bool {
	// Decimal point.
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}
	// A period glued to more token text belongs to the token: "v1.2",
	// "docker.io", the first dot of "e.g.".
	if i+1 < len(runes) {
		if n := runes[i+1]; unicode.IsLetter(n) || unicode.IsDigit(n) || n == '.' {
			return false
		}
	}

	tok := tokenBackward(runes, i)
	if tok == "" {
		return true
	}
	return !nonTerminalAbbrevs[tok] && !isInitialism(tok)
}

// tokenForward collects the word token starting at runes[i], including
// interior periods, normalized for table lookup.
func tokenForward(runes []rune, i int) string {
	end := i
	for end < len(runes) && (unicode.IsLetter(runes[end]) || runes[end] == '.') {
		end++
	}
	return strings.ToLower(strings.Trim(string(runes[i:end]), "."))
}

// tokenBackward collects the word token that ends just before runes[i].
func tokenBackward(runes []rune, i int) string {
	start := i
	for start > 0 && (unicode.IsLetter(runes[start-1]) || runes[start-1] == '.') {
		start--
	}
	return strings.ToLower(strings.Trim(string(runes[start:i]), "."))
}

// isInitialism matches dotted single-letter runs like "u.s" or "a.i".
func isInitialism(tok string) bool {
	parts := strings.Split(tok, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		r := []rune(p)
		if len(r) != 1 || !unicode.IsLetter(r[0]) {
			return false
		}
	}
	return true
}

func isClosingMark(r rune) bool {
	switch r {
	case ')', ']', '}', '\'', '"', '’', '”':
		return true
	}
	return false
}

// capitalizePronounI uppercases the standalone pronoun and its contractions
// while skipping dotted tokens such as "i.e" or an interior "a.i.".
func capitalizePronounI(text string) string {
	locs := pronounI.FindAllStringIndex(text, -1)
	if locs == nil {
		return text
	}
	b := []byte(text)
	for _, loc := range locs {
		if insideDottedToken(text, loc[0]+1) {
			continue
		}
		b[loc[0]] = 'I'
	}
	return string(b)
}

// insideDottedToken reports whether the byte before position i ends a match
// that is really part of a dotted abbreviation rather than the pronoun.
func insideDottedToken(text string, i int) bool {
	if i >= len(text) || text[i] != '.' {
		return false
	}
	// "i.e": the dot opens more token text.
	if i+1 < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[i+1:]); unicode.IsLetter(r) {
			return true
		}
	}
	// "a.i.": dotted on both sides.
	if i >= 2 && text[i-2] == '.' {
		if r, _ := utf8.DecodeLastRuneInString(text[:i-2]); unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
