package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"florapredict/ml"
)

// NormalizeToken trims s and title-cases it, so "  loamy " becomes "Loamy".
func NormalizeToken(s string) string {
	return cases.Title(language.English).String(strings.TrimSpace(s))
}

// Normalize returns a copy of raw with categorical tokens normalized and
// numeric strings trimmed. Entry points call it before validation; the
// schema itself only accepts canonical tokens.
func Normalize(schema *ml.Schema, raw ml.RawInput) ml.RawInput {
	out := make(ml.RawInput, len(raw))
	for name, v := range raw {
		s, ok := v.(string)
		if !ok {
			out[name] = v
			continue
		}
		f, known := schema.Field(name)
		if known && f.Kind == ml.Categorical {
			out[name] = NormalizeToken(s)
		} else {
			out[name] = strings.TrimSpace(s)
		}
	}
	return out
}
