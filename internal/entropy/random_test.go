package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameSeedSameSequence(t *testing.T) {
	a, b := New(7), New(7)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Float(), b.Float())
		assert.Equal(t, a.IntN(100), b.IntN(100))
	}
}

func TestRestoreContinuesSequence(t *testing.T) {
	src := New(99)
	src.Float()
	src.IntN(10)

	state, err := src.MarshalBinary()
	require.NoError(t, err)

	restored, err := Restore(state)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, src.Float(), restored.Float())
	}
}

func TestRestoreEmptyState(t *testing.T) {
	src, err := Restore(nil)
	require.NoError(t, err)
	f := src.Float()
	assert.GreaterOrEqual(t, f, 0.0)
	assert.Less(t, f, 1.0)
}

func TestRestoreGarbage(t *testing.T) {
	_, err := Restore([]byte("nope"))
	assert.Error(t, err)
}

func TestReadDeterministic(t *testing.T) {
	a, b := make([]byte, 13), make([]byte, 13)
	n, err := New(5).Read(a)
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	_, err = New(5).Read(b)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, make([]byte, 13), a)
}

func TestChanceBounds(t *testing.T) {
	src := New(1)
	for i := 0; i < 50; i++ {
		assert.True(t, src.Chance(1))
		assert.False(t, src.Chance(0))
	}
}
