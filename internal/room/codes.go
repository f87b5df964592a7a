// internal/room/codes.go
package room

import "math/rand/v2"

// CodeLength is the fixed length of a room code.
const CodeLength = 4

// codeAlphabet omits lookalike characters (I, L, O, 0, 1) so codes survive
// being read off a TV screen.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewCode returns a random room code. Uniqueness is not guaranteed here; the
// create-only document write is what enforces it.
func NewCode() string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}
