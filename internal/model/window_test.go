package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowPushEvictsOldest(t *testing.T) {
	w := NewWindow[int](3)
	for i := 1; i <= 3; i++ {
		_, evicted := w.Push(i)
		assert.False(t, evicted)
	}
	assert.True(t, w.Full())

	old, evicted := w.Push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, w.Values())

	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, 4, last)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 3, w.Cap())
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow[float64](0)
	_, ok := w.Last()
	assert.False(t, ok)
	assert.Empty(t, w.Values())
	assert.Equal(t, 1, w.Cap())
}
