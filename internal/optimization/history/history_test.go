package history

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cmadac/internal/optimization"
)

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		_, err := New[float64](c)
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
	}
}

func TestBufferOverflow(t *testing.T) {
	b, err := New[float64](2)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		b.Append(float64(i))
		assert.LessOrEqual(t, b.Len(), 2)
	}

	assert.Equal(t, []float64{4, 5}, b.Values())
	assert.Equal(t, 4.0, b.At(0))
	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, 5.0, last)
	assert.Equal(t, []float64{4, 5}, PadLeft(b.Values(), 2))
}

func TestBufferClear(t *testing.T) {
	b, err := New[Pair](3)
	require.NoError(t, err)
	b.Append(Pair{1, 2})
	b.Append(Pair{3, 4})
	b.Clear()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 3, b.Cap())
	_, ok := b.Last()
	assert.False(t, ok)

	b.Append(Pair{5, 6})
	assert.Equal(t, []Pair{{5, 6}}, b.Values())
}

func TestPadLeft(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		n      int
		want   []float64
	}{
		{"empty", nil, 3, []float64{0, 0, 0}},
		{"partial", []float64{1, 2}, 4, []float64{0, 0, 1, 2}},
		{"exact", []float64{1, 2, 3}, 3, []float64{1, 2, 3}},
		{"truncates oldest", []float64{1, 2, 3, 4}, 2, []float64{3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PadLeft(tt.values, tt.n))
		})
	}
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3, 4}, Flatten([]Pair{{1, 2}, {3, 4}}))
	assert.Empty(t, Flatten(nil))
}

func TestAtPanicsOutOfRange(t *testing.T) {
	b, err := New[int](2)
	require.NoError(t, err)
	assert.Panics(t, func() { b.At(0) })
}
