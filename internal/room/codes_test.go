// internal/room/codes_test.go
package room

import (
	"strings"
	"testing"
)

func TestNewCodeShape(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code := NewCode()
		if len(code) != CodeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), CodeLength)
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q contains %q, outside the alphabet", code, c)
			}
		}
	}
}

func TestNewCodeSpread(t *testing.T) {
	// The space is 31^4; ten thousand draws should collide rarely. A heavy
	// collision rate means the generator is broken, not unlucky.
	seen := make(map[string]bool, 10000)
	collisions := 0
	for i := 0; i < 10000; i++ {
		code := NewCode()
		if seen[code] {
			collisions++
		}
		seen[code] = true
	}
	if collisions > 200 {
		t.Fatalf("%d collisions in 10000 draws", collisions)
	}
}
