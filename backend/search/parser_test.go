package search

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Query
	}{
		{
			input: "team:Lions",
			expected: Query{
				Filters: []Filter{
					{Key: "team", Value: "Lions", Operator: OpEqual},
				},
				FreeText: []string{},
			},
		},
		{
			input: "venue:\"Eden Gardens\" team:\"Royal Lions\"",
			expected: Query{
				Filters: []Filter{
					{Key: "venue", Value: "Eden Gardens", Operator: OpEqual},
					{Key: "team", Value: "Royal Lions", Operator: OpEqual},
				},
				FreeText: []string{},
			},
		},
		{
			input: "is:live something",
			expected: Query{
				Filters: []Filter{
					{Key: "is", Value: "live", Operator: OpEqual},
				},
				FreeText: []string{"something"},
			},
		},
		{
			input: "date:>=\"2025-01-01\"",
			expected: Query{
				Filters: []Filter{
					{Key: "date", Value: "2025-01-01", Operator: OpGreaterOrEqual},
				},
				FreeText: []string{},
			},
		},
		{
			input: "date:<2026",
			expected: Query{
				Filters: []Filter{
					{Key: "date", Value: "2026", Operator: OpLess},
				},
				FreeText: []string{},
			},
		},
		{
			input: "date:2025-01..2025-03",
			expected: Query{
				Filters: []Filter{
					{Key: "date", Value: "2025-01", MaxValue: "2025-03", Operator: OpRange},
				},
				FreeText: []string{},
			},
		},
		{
			input: "mixed query \"free text\" key:val",
			expected: Query{
				Filters: []Filter{
					{Key: "key", Value: "val", Operator: OpEqual},
				},
				FreeText: []string{"mixed", "query", "free text"},
			},
		},
		{
			input: "broken:range:..",
			expected: Query{
				Filters:  []Filter{},
				FreeText: []string{"broken:range:.."},
			},
		},
		{
			input: "-is:completed -team:'Royal Lions' -draw",
			expected: Query{
				Filters: []Filter{
					{Key: "is", Value: "completed", Operator: OpEqual, Negate: true},
					{Key: "team", Value: "Royal Lions", Operator: OpEqual, Negate: true},
				},
				FreeText: []string{"-draw"},
			},
		},
		{
			input: "Overs:<=\"20\"",
			expected: Query{
				Filters: []Filter{
					{Key: "overs", Value: "20", Operator: OpLessOrEqual},
				},
				FreeText: []string{},
			},
		},
		{
			input: "time:12:00", // Unquoted colon -> FreeText
			expected: Query{
				Filters:  []Filter{},
				FreeText: []string{"time:12:00"},
			},
		},
		{
			input: "time:\"12:00\"", // Quoted colon -> Filter
			expected: Query{
				Filters: []Filter{
					{Key: "time", Value: "12:00", Operator: OpEqual},
				},
				FreeText: []string{},
			},
		},
	}

	for _, tt := range tests {
		got := Parse(tt.input)
		// Helper to compare slices empty vs nil
		if len(got.FreeText) == 0 && len(tt.expected.FreeText) == 0 {
			got.FreeText = []string{}
			tt.expected.FreeText = []string{}
		}
		if len(got.Filters) == 0 && len(tt.expected.Filters) == 0 {
			got.Filters = []Filter{}
			tt.expected.Filters = []Filter{}
		}

		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("Parse(%q)\ngot  %#v\nwant %#v", tt.input, got, tt.expected)
		}
	}
}

func TestFilterMatchInt(t *testing.T) {
	tests := []struct {
		query string
		n     int
		want  bool
	}{
		{"overs:20", 20, true},
		{"overs:20", 50, false},
		{"overs:>=20", 50, true},
		{"overs:>20", 20, false},
		{"overs:<10", 5, true},
		{"overs:<=10", 11, false},
		{"overs:5..20", 10, true},
		{"overs:5..20", 21, false},
		{"overs:many", 20, false},
	}
	for _, tt := range tests {
		f := Parse(tt.query).Filters[0]
		if got := f.MatchInt(tt.n); got != tt.want {
			t.Errorf("%q.MatchInt(%d) = %v, want %v", tt.query, tt.n, got, tt.want)
		}
	}
}

func TestFilterMatchString(t *testing.T) {
	tests := []struct {
		query string
		date  string
		want  bool
	}{
		{"date:2026-03", "2026-03-14", true},
		{"date:2026-03", "2026-04-01", false},
		{"date:>=2026-03-01", "2026-03-01", true},
		{"date:>2026-03", "2026-03-31", false},
		{"date:>2026-03", "2026-04-01", true},
		{"date:<2026", "2025-12-31", true},
		{"date:<2026", "2026-01-01", false},
		{"date:<=2026-03", "2026-03-31", true},
		{"date:2026-01..2026-02", "2026-02-28", true},
		{"date:2026-01..2026-02", "2026-03-01", false},
	}
	for _, tt := range tests {
		f := Parse(tt.query).Filters[0]
		if got := f.MatchString(tt.date); got != tt.want {
			t.Errorf("%q.MatchString(%q) = %v, want %v", tt.query, tt.date, got, tt.want)
		}
	}
}

func TestFilterHolds(t *testing.T) {
	f := Parse("-is:completed").Filters[0]
	if f.Holds(true) || !f.Holds(false) {
		t.Error("negated filter kept a match")
	}
	f = Parse("is:completed").Filters[0]
	if !f.Holds(true) || f.Holds(false) {
		t.Error("plain filter dropped a match")
	}
}
