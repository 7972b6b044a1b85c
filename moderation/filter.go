// Package moderation masks muted words in messages before they are shown.
// It only changes what the terminal renders: the ledger keeps the
// original text.
package moderation

import (
	"chat-session/domain"
	"log/slog"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// MuteFilter finds muted words with an Aho-Corasick automaton built over
// normalized patterns, so "B.4.d.g.€r" matches "badger".
type MuteFilter struct {
	matcher *goahocorasick.Machine
	mask    rune
	log     *slog.Logger
}

type textMapping struct {
	normalized []rune
	origIdx    []int
}

func NewMuteFilter(mutedWords []string, mask rune, log *slog.Logger) (MuteFilter, error) {
	var patterns [][]rune
	for _, word := range mutedWords {
		if pattern := normalizeRunes([]rune(word)); len(pattern) > 0 {
			patterns = append(patterns, pattern)
		}
	}
	if len(patterns) == 0 {
		return MuteFilter{mask: mask, log: log}, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return MuteFilter{}, err
	}
	return MuteFilter{matcher: m, mask: mask, log: log}, nil
}

// Mask replaces every muted word with the mask rune, keeping the original
// spacing and punctuation, and returns the words that matched.
func (f MuteFilter) Mask(original string) (string, []string) {
	if f.matcher == nil {
		return original, nil
	}
	mapping := normalize(original)
	if len(mapping.normalized) == 0 {
		return original, nil
	}
	terms := f.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(terms) == 0 {
		return original, nil
	}

	runes := []rune(original)
	var words []string
	for _, term := range terms {
		start, end := term.Pos, term.Pos+len(term.Word)
		if start < 0 || end > len(mapping.origIdx) {
			continue
		}
		for i := mapping.origIdx[start]; i <= mapping.origIdx[end-1]; i++ {
			runes[i] = f.mask
		}
		words = append(words, string(term.Word))
	}
	f.log.Debug("Masked muted words", "count", len(words))
	return string(runes), words
}

func (f MuteFilter) RoomMessage(msg domain.RoomMessage) domain.RoomMessage {
	if msg.Kind == domain.KindSystem {
		return msg
	}
	msg.Content, _ = f.Mask(msg.Content)
	return msg
}

func (f MuteFilter) DirectMessage(msg domain.DirectMessage) domain.DirectMessage {
	msg.Content, _ = f.Mask(msg.Content)
	return msg
}

func normalize(input string) textMapping {
	runes := []rune(input)
	mapping := textMapping{
		normalized: make([]rune, 0, len(runes)),
		origIdx:    make([]int, 0, len(runes)),
	}
	for i, r := range runes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		mapping.normalized = append(mapping.normalized, unicode.ToLower(clean))
		mapping.origIdx = append(mapping.origIdx, i)
	}
	return mapping
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps leet speak back to letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
