package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueWraps(t *testing.T) {
	q := NewRingQueue[int](3)
	assert.True(t, q.IsEmpty())

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.True(t, q.IsFull())
	assert.ErrorIs(t, q.Enqueue(4), ErrQueueFull)

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, q.Enqueue(4))
	back, err := q.Back()
	require.NoError(t, err)
	assert.Equal(t, 4, back)

	front, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 2, front)
	assert.Equal(t, 3, q.Len())

	q.Clear()
	assert.True(t, q.IsEmpty())
	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = q.Back()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
