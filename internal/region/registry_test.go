package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("normalizes and sorts codes", func(t *testing.T) {
		reg, err := New([]Region{
			{Code: "us", ConnectionDescriptor: "memory://us"},
			{Code: " EU-main ", ConnectionDescriptor: "memory://hub"},
			{Code: "EU", ConnectionDescriptor: "memory://eu"},
		}, Topology{Satellites: []string{"us", "in"}, Aggregator: "eu-main", EURegions: []string{"eu", "EU-MAIN", "eu"}})
		require.NoError(t, err)

		assert.Equal(t, []string{"EU", "EU-MAIN", "US"}, reg.Codes())
		assert.Equal(t, "EU-MAIN", reg.Aggregator())
		assert.Equal(t, []string{"EU", "EU-MAIN"}, reg.EURegions())
		assert.True(t, reg.IsSatellite("Us"))
		assert.True(t, reg.IsSatellite("IN"))
		assert.False(t, reg.IsSatellite("EU"))

		hub, ok := reg.Lookup("eu-MAIN")
		require.True(t, ok)
		assert.Equal(t, "memory://hub", hub.ConnectionDescriptor)

		_, ok = reg.Lookup("APAC")
		assert.False(t, ok)
	})

	t.Run("rejects duplicates and empty descriptors", func(t *testing.T) {
		_, err := New([]Region{
			{Code: "EU", ConnectionDescriptor: "memory://eu"},
			{Code: "eu", ConnectionDescriptor: "memory://eu2"},
			{Code: "US", ConnectionDescriptor: " "},
		}, Topology{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declared twice")
		assert.Contains(t, err.Error(), "empty connection descriptor")
	})

	t.Run("returned slices are copies", func(t *testing.T) {
		reg, err := New([]Region{{Code: "EU", ConnectionDescriptor: "memory://eu"}}, Topology{})
		require.NoError(t, err)

		codes := reg.Codes()
		codes[0] = "XX"
		assert.Equal(t, []string{"EU"}, reg.Codes())
	})
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("eu-main", " EU-MAIN"))
	assert.False(t, Equal("EU", "EU-MAIN"))
}
