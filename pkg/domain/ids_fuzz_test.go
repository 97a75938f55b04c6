package domain

import (
	"testing"

	"github.com/google/uuid"
)

// FuzzParseOrgID checks that anything accepted is a canonical, non-nil UUID.
func FuzzParseOrgID(f *testing.F) {
	for _, seed := range []string{
		"",
		uuid.NewString(),
		uuid.Nil.String(),
		"{550e8400-e29b-41d4-a716-446655440000}",
		"urn:uuid:550e8400-e29b-41d4-a716-446655440000",
		"550e8400e29b41d4a716446655440000",
		"\xff",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, input string) {
		org, err := ParseOrgID(input)
		if err != nil {
			return
		}
		if org.IsNil() {
			t.Fatalf("accepted nil uuid from %q", input)
		}
		again, err := ParseOrgID(org.String())
		if err != nil || again != org {
			t.Fatalf("canonical form %q did not reparse to the same id", org.String())
		}
	})
}
