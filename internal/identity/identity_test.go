package identity

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "alice", "alice"},
		{"uppercase folded", "Alice", "alice"},
		{"allowed punctuation kept", "user-42_x", "user-42_x"},
		{"spaces dropped", " alice smith ", "alicesmith"},
		{"invalid runes dropped", "al!ce@example", "alceexample"},
		{"empty", "", Anonymous},
		{"only invalid runes", "!!!", Anonymous},
		{"long ids bounded", strings.Repeat("a", 100), strings.Repeat("a", 48)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.raw); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestUserID(t *testing.T) {
	r := NewResolver()

	req := httptest.NewRequest("GET", "/", nil)
	if got := r.UserID(req); got != Anonymous {
		t.Errorf("missing header: got %q, want %q", got, Anonymous)
	}

	req.Header.Set(Header, "Alice-42")
	if got := r.UserID(req); got != "alice-42" {
		t.Errorf("got %q, want %q", got, "alice-42")
	}
}
