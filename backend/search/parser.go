// Package search parses the query strings accepted by the match and team
// listings: free words, key:value filters, comparisons and ranges.
//
//	team:"Royal Lions" venue:eden overs:>=20 date:2026-01..2026-03 -is:completed
package search

import (
	"strconv"
	"strings"
	"unicode"
)

// Operator defines the type of comparison for a filter.
type Operator string

const (
	OpEqual          Operator = "="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpRange          Operator = ".." // date:2026-01..2026-02
)

// prefixOps is checked in order; two-character operators come first.
var prefixOps = []Operator{OpGreaterOrEqual, OpLessOrEqual, OpGreater, OpLess}

// Filter is one key:value criterion.
type Filter struct {
	Key      string
	Value    string
	MaxValue string // upper bound of an OpRange
	Operator Operator
	// Negate inverts the filter (-key:value).
	Negate bool
}

// Query is a parsed search string.
type Query struct {
	Filters  []Filter
	FreeText []string
}

// Parse splits input into filters and free-text words. Quotes group words
// and may wrap a value containing a colon; an unquoted second colon, an
// empty key or an empty value leaves the token as free text.
func Parse(input string) Query {
	q := Query{Filters: []Filter{}, FreeText: []string{}}
	for _, token := range tokenize(input) {
		if f, ok := parseFilter(token); ok {
			q.Filters = append(q.Filters, f)
			continue
		}
		q.FreeText = append(q.FreeText, unquote(token))
	}
	return q
}

func parseFilter(token string) (Filter, bool) {
	key, val, found := strings.Cut(token, ":")
	if !found {
		return Filter{}, false
	}
	var f Filter
	if strings.HasPrefix(key, "-") {
		f.Negate = true
		key = key[1:]
	}
	f.Key = strings.ToLower(strings.TrimSpace(key))
	val = strings.TrimSpace(val)
	if f.Key == "" || val == "" || strings.ContainsAny(f.Key, `"'`) {
		return Filter{}, false
	}
	if strings.Contains(val, ":") && !isQuoted(val) {
		return Filter{}, false
	}
	if lo, hi, ok := strings.Cut(val, string(OpRange)); ok {
		f.Operator, f.Value, f.MaxValue = OpRange, unquote(lo), unquote(hi)
		return f, true
	}
	f.Operator = OpEqual
	for _, op := range prefixOps {
		if rest, ok := strings.CutPrefix(val, string(op)); ok {
			f.Operator, val = op, rest
			break
		}
	}
	f.Value = unquote(val)
	return f, true
}

// tokenize splits input on unquoted white space. Quote characters are kept.
func tokenize(input string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quote  rune
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range input {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case unicode.IsSpace(r):
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return tokens
}

func isQuoted(s string) bool {
	return strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "'")
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// MatchString compares s against the filter lexicographically. It suits
// fixed-width values such as ISO dates, where a prefix like "2026-01"
// matches any day of that month.
func (f Filter) MatchString(s string) bool {
	switch f.Operator {
	case OpRange:
		return s >= f.Value && (f.MaxValue == "" || s <= f.MaxValue || strings.HasPrefix(s, f.MaxValue))
	case OpGreater:
		return s > f.Value && !strings.HasPrefix(s, f.Value)
	case OpGreaterOrEqual:
		return s >= f.Value
	case OpLess:
		return s < f.Value
	case OpLessOrEqual:
		return s <= f.Value || strings.HasPrefix(s, f.Value)
	}
	return strings.HasPrefix(s, f.Value)
}

// MatchInt compares n against the filter numerically. A filter whose value
// is not a number matches nothing.
func (f Filter) MatchInt(n int) bool {
	v, err := strconv.Atoi(f.Value)
	if err != nil {
		return false
	}
	switch f.Operator {
	case OpRange:
		hi, err := strconv.Atoi(f.MaxValue)
		return err == nil && n >= v && n <= hi
	case OpGreater:
		return n > v
	case OpGreaterOrEqual:
		return n >= v
	case OpLess:
		return n < v
	case OpLessOrEqual:
		return n <= v
	}
	return n == v
}

// Holds reports whether a value for which the filter's comparison gave
// matched should be kept, taking negation into account.
func (f Filter) Holds(matched bool) bool {
	return matched != f.Negate
}
