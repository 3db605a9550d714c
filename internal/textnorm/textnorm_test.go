package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "три кастома мелиса", Fold("  Три   КАСТОМА\tМелиса "))
	assert.Equal(t, "елка", Fold("Ёлка"))
}

func TestName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "anna maria", Name("Anna-Maria"))
	assert.Equal(t, "studio one", Name("studio__one"))
}

func TestTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"мелиса", "30", "файлов"}, Tokens("мелиса, 30 файлов!"))
	assert.Empty(t, Tokens(" ... "))
}
