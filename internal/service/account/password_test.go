package account

import (
	"strings"
	"testing"
)

func TestValidPasswordBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		password string
		want     bool
	}{
		{"empty", "", false},
		{"below minimum", "abc", false},
		{"at minimum", "abcd", true},
		{"at maximum", strings.Repeat("a", 100), true},
		{"above maximum", strings.Repeat("a", 101), false},
		{"typical", "Sup3rSecret", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := validPassword(tc.password); got != tc.want {
				t.Fatalf("validPassword(%q) = %v, want %v", tc.password, got, tc.want)
			}
		})
	}
}
