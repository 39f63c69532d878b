package memory

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrNoJSONObject = errors.New("no JSON object in extraction output")
	ErrInvalidJSON  = errors.New("malformed JSON object in extraction output")
)

// ParseFacts pulls the first top-level JSON object out of raw model output
// and flattens it to key/value strings. Scalars are kept in their JSON text
// form, string arrays are joined, nested objects and nulls are dropped.
func ParseFacts(raw string) (map[string]string, error) {
	obj, ok := firstObject(stripFences(raw))
	if !ok {
		return nil, ErrNoJSONObject
	}
	if !gjson.Valid(obj) {
		return nil, ErrInvalidJSON
	}

	facts := make(map[string]string)
	gjson.Parse(obj).ForEach(func(key, value gjson.Result) bool {
		var v string
		switch {
		case value.Type == gjson.String:
			v = value.Str
		case value.Type == gjson.Number, value.Type == gjson.True, value.Type == gjson.False:
			v = value.Raw
		case value.IsArray():
			var parts []string
			value.ForEach(func(_, item gjson.Result) bool {
				if item.Type == gjson.String || item.Type == gjson.Number {
					parts = append(parts, item.String())
				}
				return true
			})
			v = strings.Join(parts, ", ")
		}
		if v = strings.TrimSpace(v); v != "" {
			facts[key.String()] = v
		}
		return true
	})
	return facts, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx != -1 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx != -1 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// firstObject returns the first balanced {...} substring. Braces inside JSON
// strings do not count.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
