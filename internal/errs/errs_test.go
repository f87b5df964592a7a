// internal/errs/errs_test.go
package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := E(DuplicateWager, "user %s already wagered", "u1")
	assert.Equal(t, DuplicateWager, KindOf(err))
	assert.True(t, Is(err, DuplicateWager))
	assert.False(t, Is(err, Forbidden))

	// The kind survives wrapping with %w.
	wrapped := fmt.Errorf("handler: %w", err)
	assert.Equal(t, DuplicateWager, KindOf(wrapped))

	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Unknown, KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(StaleWrite, cause, "put room %s", "ABCD")
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, StaleWrite, KindOf(err))
	assert.Contains(t, err.Error(), "StaleWrite")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "InsufficientPoints", InsufficientPoints.String())
	assert.Equal(t, "Unknown", Kind(999).String())
}
