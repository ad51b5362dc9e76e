package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUTF8(t *testing.T) {
	t.Run("decodes win1252 accents", func(t *testing.T) {
		// "São Paulo" in WIN1252
		assert.Equal(t, "São Paulo", ToUTF8([]byte{'S', 0xE3, 'o', ' ', 'P', 'a', 'u', 'l', 'o'}))
	})

	t.Run("keeps valid utf8 and trims padding", func(t *testing.T) {
		assert.Equal(t, "Zürich", ToUTF8([]byte("Zürich   ")))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", ToUTF8(nil))
	})
}

func TestFromUTF8RoundTrip(t *testing.T) {
	raw, err := FromUTF8("Málaga")
	require.NoError(t, err)
	assert.Equal(t, "Málaga", ToUTF8(raw))
}
