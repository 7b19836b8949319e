package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestQueuePopsInDeadlineOrder(t *testing.T) {
	q := NewQueue()
	q.Set("c", base.Add(3*time.Minute))
	q.Set("a", base.Add(1*time.Minute))
	q.Set("b", base.Add(2*time.Minute))

	var got []string
	for {
		k, ok := q.PopDue(base.Add(time.Hour))
		if !ok {
			break
		}
		got = append(got, k)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueueSetReplacesExistingEntry(t *testing.T) {
	q := NewQueue()
	q.Set("rec", base.Add(time.Minute))
	q.Set("rec", base.Add(10*time.Minute))
	q.Set("rec", base.Add(5*time.Minute))

	require.Equal(t, 1, q.Len())
	d, ok := q.Deadline("rec")
	require.True(t, ok)
	assert.Equal(t, base.Add(5*time.Minute), d)

	_, ok = q.PopDue(base.Add(4 * time.Minute))
	assert.False(t, ok, "entry must not fire before its replaced deadline")
	k, ok := q.PopDue(base.Add(5 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, "rec", k)
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	q.Set("a", base)
	q.Set("b", base.Add(time.Second))

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"))
	assert.False(t, q.Has("a"))

	k, at, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "b", k)
	assert.Equal(t, base.Add(time.Second), at)
}

func TestQueueEqualDeadlinesKeepArmOrder(t *testing.T) {
	q := NewQueue()
	q.Set("first", base)
	q.Set("second", base)
	q.Set("third", base)

	for _, want := range []string{"first", "second", "third"} {
		k, ok := q.PopDue(base)
		require.True(t, ok)
		assert.Equal(t, want, k)
	}
}

func TestQueueEmpty(t *testing.T) {
	q := NewQueue()
	_, _, ok := q.Next()
	assert.False(t, ok)
	_, ok = q.PopDue(base)
	assert.False(t, ok)
}
