// Package mention decides whether an inbound chat message summons the
// assistant and extracts the user query with the trigger tokens removed.
package mention

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultPatterns are the trigger tokens recognized out of the box.
var DefaultPatterns = []string{
	"@bb",
	"@bargainb",
	"@bargain",
	"hey bb",
	"hi bb",
	"bb help",
	"bb please",
	"bb can you",
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// Detection is the result of inspecting one message.
type Detection struct {
	Triggered    bool     `json:"triggered"`
	Patterns     []string `json:"patterns,omitempty"`
	CleanedQuery string   `json:"cleaned_query,omitempty"`
	Original     string   `json:"original"`
}

// Detector matches trigger tokens case-insensitively regardless of
// surrounding punctuation or position. It is pure and never fails.
type Detector struct {
	patterns []string
	matchers []*regexp.Regexp
}

// NewDetector compiles a detector for the given trigger patterns,
// falling back to DefaultPatterns when none are given.
func NewDetector(patterns []string) *Detector {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	d := &Detector{
		patterns: make([]string, 0, len(patterns)),
		matchers: make([]*regexp.Regexp, 0, len(patterns)),
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		d.patterns = append(d.patterns, p)
		d.matchers = append(d.matchers, compilePattern(p))
	}
	return d
}

// compilePattern turns a literal trigger token into a case-insensitive
// matcher. Interior spaces match any whitespace run; a word boundary is
// required after the token (and before it when it starts with a word rune)
// so "@bb" matches in "hi,@bb!" but not inside "@bbq".
func compilePattern(pattern string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, ` `, `\s+`)
	expr := `(?i)` + escaped + `\b`
	first := []rune(pattern)[0]
	if unicode.IsLetter(first) || unicode.IsDigit(first) {
		expr = `(?i)\b` + escaped + `\b`
	}
	return regexp.MustCompile(expr)
}

// Detect inspects raw text for trigger tokens. All occurrences of every
// matched pattern are stripped from the cleaned query and whitespace is
// collapsed. When no pattern matches, Triggered is false and CleanedQuery
// is empty.
func (d *Detector) Detect(raw string) Detection {
	det := Detection{Original: raw}
	if strings.TrimSpace(raw) == "" {
		return det
	}

	cleaned := raw
	for i, m := range d.matchers {
		if !m.MatchString(cleaned) {
			continue
		}
		det.Patterns = append(det.Patterns, d.patterns[i])
		cleaned = m.ReplaceAllString(cleaned, " ")
	}
	if len(det.Patterns) == 0 {
		return det
	}

	det.Triggered = true
	det.CleanedQuery = cleanQuery(cleaned)
	return det
}

func cleanQuery(s string) string {
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimFunc(s, func(r rune) bool {
		return r == ',' || r == '-' || r == ':' || unicode.IsSpace(r)
	})
	return strings.TrimSpace(s)
}
