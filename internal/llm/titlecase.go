package llm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// leadInPhrases are dropped from the front of model-generated titles. Models
// like to phrase a title as a description of the conversation.
var leadInPhrases = []string{
	"discussion about",
	"discussion on",
	"discussing",
}

// functionWords stay lowercase inside a title. Everything else — the nouns,
// verbs and adjectives that carry the title's meaning — gets capitalised.
var functionWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"and": {}, "but": {}, "or": {}, "nor": {},
	"as": {}, "at": {}, "by": {}, "for": {}, "from": {}, "in": {},
	"into": {}, "of": {}, "on": {}, "onto": {}, "per": {}, "to": {},
	"via": {}, "with": {},
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// TitleCase normalises a model-returned title: strips lead-in phrases,
// capitalises content words, and always uppercases the first character.
// It never fails; malformed input comes back unchanged where no rule applies.
func TitleCase(title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return title
	}

	lower := strings.ToLower(t)
	for _, phrase := range leadInPhrases {
		if strings.HasPrefix(lower, phrase) {
			t = strings.TrimSpace(t[len(phrase):])
			break
		}
	}
	if t == "" {
		return strings.TrimSpace(title)
	}

	words := strings.Fields(t)
	for i, w := range words {
		if _, skip := functionWords[strings.ToLower(w)]; skip && i > 0 {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(w); unicode.IsLower(r) {
			words[i] = titleCaser.String(w)
		}
	}
	t = strings.Join(words, " ")

	// The first character is uppercased unconditionally, function word or not.
	if r, size := utf8.DecodeRuneInString(t); unicode.IsLower(r) {
		t = string(unicode.ToUpper(r)) + t[size:]
	}
	return t
}
