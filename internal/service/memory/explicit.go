package memory

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// FallbackKey is used when a statement yields no usable key words.
	FallbackKey = "note"

	explicitKeyWords = 3
	maxValueRunes    = 500
)

type explicitRule struct {
	pattern *regexp.Regexp
	// verb prefixes the value so preference rules keep their sentiment
	verb string
	// keyed rules capture the key and the value separately
	keyed bool
	// negatable rules do not fire when a negation directly precedes the match
	negatable bool
}

var negationTail = regexp.MustCompile(`(?i)\b(?:don['’]?t|do\s+not|doesn['’]?t|didn['’]?t|can['’]?t|cannot|couldn['’]?t|won['’]?t|never|not)(?:\s+(?:really|even|quite|always))?\s*$`)

// Rules are tried in order; the first match wins.
var explicitRules = []explicitRule{
	{pattern: regexp.MustCompile(`(?i)\bremember\s+that\s+(.+)`), negatable: true},
	{pattern: regexp.MustCompile(`(?i)\bplease\s+remember[:,]?\s+(.+)`)},
	{pattern: regexp.MustCompile(`(?i)\bremember:\s*(.+)`), negatable: true},
	{pattern: regexp.MustCompile(`(?i)\bdon'?t\s+forget(?:\s+that)?\s+(.+)`)},
	{pattern: regexp.MustCompile(`(?i)\bnote\s+that\s+(.+)`), negatable: true},
	{pattern: regexp.MustCompile(`(?i)\bmy\s+([\p{L}\p{N}' ]{1,60}?)\s+(?:is|are)\s+(.+)`), keyed: true},
	{pattern: regexp.MustCompile(`(?i)\bi\s+prefer\s+(.+)`), verb: "prefers"},
	{pattern: regexp.MustCompile(`(?i)\bi\s+(?:really\s+)?like\s+(.+)`), verb: "likes"},
	{pattern: regexp.MustCompile(`(?i)\bi\s+(?:really\s+)?love\s+(.+)`), verb: "loves"},
	{pattern: regexp.MustCompile(`(?i)\bi\s+(?:really\s+)?(?:hate|dislike)\s+(.+)`), verb: "dislikes"},
}

// ExtractExplicit applies the explicit memory rules to a user message and
// returns at most one fact. The result depends only on text.
func ExtractExplicit(text string) (key, value string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", false
	}
	for _, rule := range explicitRules {
		idx := rule.pattern.FindStringSubmatchIndex(text)
		if idx == nil {
			continue
		}
		if rule.negatable && negationTail.MatchString(text[:idx[0]]) {
			continue
		}
		m := submatches(text, idx)
		if rule.keyed {
			value = cleanValue(m[2])
			if value == "" {
				continue
			}
			key = NormalizeKey(m[1], explicitKeyWords)
		} else {
			remainder := cleanValue(m[1])
			if remainder == "" {
				continue
			}
			key = NormalizeKey(remainder, explicitKeyWords)
			value = remainder
			if rule.verb != "" {
				value = rule.verb + " " + remainder
			}
		}
		if key == "" {
			key = FallbackKey
		}
		return key, value, true
	}
	return "", "", false
}

func submatches(text string, idx []int) []string {
	m := make([]string, len(idx)/2)
	for i := range m {
		if idx[2*i] >= 0 {
			m[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return m
}

// NormalizeKey lower-cases s, drops everything but letters and digits and
// joins the first maxWords words with underscores.
func NormalizeKey(s string, maxWords int) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, "_")
}

func cleanValue(s string) string {
	// only the first line counts
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!?;, ")
	runes := []rune(s)
	if len(runes) > maxValueRunes {
		s = string(runes[:maxValueRunes])
	}
	return s
}
