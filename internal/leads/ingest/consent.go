package ingest

import "strings"

// ConsentDecision is the outcome of scanning a message for consent keywords.
type ConsentDecision int

const (
	ConsentNone ConsentDecision = iota
	ConsentAffirmative
	ConsentNegative
)

// Per-language keyword tables. New locales are additive; unknown languages
// fall through to the English table.
var affirmativeKeywords = map[string][]string{
	"en": {"yes", "yeah", "yep", "ok", "okay", "sure", "agree", "i agree", "accept", "i accept", "i consent"},
	"tr": {"evet", "kabul", "kabul ediyorum", "onaylıyorum", "onayliyorum", "tamam", "olur", "tabii"},
	"de": {"ja", "einverstanden", "ich stimme zu", "okay", "akzeptiere", "ich akzeptiere"},
	"ar": {"نعم", "موافق", "اوافق", "أوافق"},
}

var negativeKeywords = map[string][]string{
	"en": {"no", "nope", "i do not agree", "i don't agree", "refuse", "i refuse", "decline"},
	"tr": {"hayır", "hayir", "istemiyorum", "kabul etmiyorum", "onaylamıyorum"},
	"de": {"nein", "ich stimme nicht zu", "ablehnen", "ich lehne ab"},
	"ar": {"لا", "ارفض", "أرفض"},
}

// MatchConsent scans a message for the language's affirmative and negative
// consent keywords. Negatives are checked first so "kabul etmiyorum" never
// matches the bare "kabul" affirmative.
func MatchConsent(language, content string) ConsentDecision {
	normalized := normalizeConsentText(content)
	if normalized == "" {
		return ConsentNone
	}

	if matchesKeywordSet(normalized, keywordsFor(negativeKeywords, language)) {
		return ConsentNegative
	}
	if matchesKeywordSet(normalized, keywordsFor(affirmativeKeywords, language)) {
		return ConsentAffirmative
	}
	return ConsentNone
}

func keywordsFor(table map[string][]string, language string) []string {
	if keywords, ok := table[language]; ok {
		return keywords
	}
	return table["en"]
}

// matchesKeywordSet accepts an exact keyword match or, for multi-word
// phrases, a substring match. Single words never match as substrings so
// "canyon" does not consent to anything.
func matchesKeywordSet(normalized string, keywords []string) bool {
	for _, keyword := range keywords {
		if normalized == keyword {
			return true
		}
		if strings.Contains(keyword, " ") && strings.Contains(normalized, keyword) {
			return true
		}
	}

	// Also accept a single-word keyword as the leading word ("yes please").
	first, _, _ := strings.Cut(normalized, " ")
	for _, keyword := range keywords {
		if !strings.Contains(keyword, " ") && first == keyword {
			return true
		}
	}
	return false
}

func normalizeConsentText(content string) string {
	s := strings.ToLower(strings.TrimSpace(content))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':', '"', '\'':
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
