package text

import (
	"strings"
	"unicode"
)

type INormalizer interface {
	Normalize(text string) string
}

type Language string

const (
	ENGLISH    Language = "en"
	VIETNAMESE Language = "vi"
)

// Fluff words carry no routing signal and are dropped before phrase
// matching. Vietnamese particles are matched with their diacritics.
var Fluff = map[Language][]string{
	"en": {
		"uh", "um", "ah", "er", "hmm", "well", "like", "so", "okay", "ok",
		"please", "just", "really", "actually", "basically", "the", "a", "an",
	},
	"vi": {
		"à", "ừ", "ừm", "ờ", "ạ", "ơi", "nhé", "nha", "nhỉ", "vậy", "thế",
		"đi", "với", "giúp", "hãy", "làm", "ơn", "cho", "tôi", "mình", "em",
		"anh", "chị", "bạn",
	},
}

// Normalizer folds case, strips punctuation and fluff words, and collapses
// whitespace. Word order is kept.
type Normalizer struct {
	fluffMap map[string]struct{}
}

// NewNormalizer loads the fluff list for language. Unknown languages get an
// empty list and only case and punctuation folding.
func NewNormalizer(language Language) *Normalizer {
	fluffMap := make(map[string]struct{})
	for _, w := range Fluff[language] {
		fluffMap[w] = struct{}{}
	}
	return &Normalizer{fluffMap: fluffMap}
}

func (n *Normalizer) Normalize(input string) string {
	lowered := strings.ToLower(input)
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '-') || unicode.IsSymbol(r)
	})
	kept := fields[:0]
	for _, f := range fields {
		if _, fluff := n.fluffMap[f]; fluff {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// ContainsPhrase reports whether phrase occurs in normalized on word
// boundaries. Both arguments should already be normalized.
func ContainsPhrase(normalized, phrase string) bool {
	if phrase == "" {
		return false
	}
	padded := " " + normalized + " "
	return strings.Contains(padded, " "+phrase+" ")
}
