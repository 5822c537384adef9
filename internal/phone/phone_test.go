package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Run("strips formatting", func(t *testing.T) {
		got, err := Normalize("+91 9161293962")
		assert.NoError(t, err)
		assert.Equal(t, "919161293962", got)
	})

	t.Run("strips punctuation", func(t *testing.T) {
		got, err := Normalize("(916) 129-3962")
		assert.NoError(t, err)
		assert.Equal(t, "9161293962", got)
	})

	t.Run("already normalized", func(t *testing.T) {
		got, err := Normalize("919161293962")
		assert.NoError(t, err)
		assert.Equal(t, "919161293962", got)
	})

	t.Run("too few digits", func(t *testing.T) {
		_, err := Normalize("+91 12345")
		assert.ErrorIs(t, err, ErrInvalidPhone)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Normalize("")
		assert.ErrorIs(t, err, ErrInvalidPhone)
	})

	t.Run("letters only", func(t *testing.T) {
		_, err := Normalize("not a phone")
		assert.ErrorIs(t, err, ErrInvalidPhone)
	})
}
