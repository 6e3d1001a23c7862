// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorMap(t *testing.T) {
	m := newMinorMap()
	assert.True(t, m.empty())

	for i := 0; i < MinorsPerMajor; i++ {
		minor, err := m.allocate()
		require.NoError(t, err)
		require.Equal(t, i, minor)
	}

	_, err := m.allocate()
	assert.Error(t, err, "allocated more minors than a major has")

	require.NoError(t, m.free(17))
	minor, err := m.allocate()
	require.NoError(t, err)
	assert.Equal(t, 17, minor, "freed minor not reused first")

	assert.Error(t, m.free(-1))
	assert.Error(t, m.free(MinorsPerMajor))

	for i := 0; i < MinorsPerMajor; i++ {
		require.NoError(t, m.free(i))
	}
	assert.Error(t, m.free(3), "double free not detected")
	assert.True(t, m.empty())
}
