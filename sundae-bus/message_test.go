package sundaebus

import (
	"errors"
	"strings"
	"testing"

	"github.com/tj/assert"
)

func TestValidateIdentifier(t *testing.T) {
	t.Run("accepts ascii", func(t *testing.T) {
		assert.NoError(t, ValidateIdentifier("stream", "alice"))
		assert.NoError(t, ValidateIdentifier("stream", "team-42@example.com"))
	})

	t.Run("rejects malformed", func(t *testing.T) {
		for _, id := range []string{"", "a|b", "café", "tab\there", strings.Repeat("x", 257)} {
			err := ValidateIdentifier("stream", id)
			assert.True(t, errors.Is(err, ErrValidation), id)
		}
	})
}

func TestNewDedupKey(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		key := NewDedupKey()
		assert.False(t, seen[key])
		seen[key] = true
	}
}
