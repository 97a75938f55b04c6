package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCodes(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "only blanks", input: []string{"", "  "}, expected: nil},
		{name: "uppercases and trims", input: []string{" p100 ", "d42"}, expected: []string{"P100", "D42"}},
		{name: "case-insensitive duplicates", input: []string{"P100", "p100", " P100"}, expected: []string{"P100"}},
		{name: "keeps first-seen order", input: []string{"b", "a", "B"}, expected: []string{"B", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeCodes(tt.input))
		})
	}
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"cardiology", "oncology"}, NormalizeTags([]string{"Cardiology", " oncology", "CARDIOLOGY"}))
}
