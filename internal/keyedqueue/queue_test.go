package keyedqueue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequeueOneIsFIFOPerKey(t *testing.T) {
	q := New[string, int]()
	q.Enqueue("a", 1)
	q.Enqueue("b", 10)
	q.Enqueue("a", 2)
	q.Enqueue("a", 3)

	for _, want := range []int{1, 2, 3} {
		v, ok := q.DequeueOne("a")
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := q.DequeueOne("a")
	assert.False(t, ok)

	v, ok := q.DequeueOne("b")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestDequeueOneUnknownKey(t *testing.T) {
	q := New[string, string]()
	v, ok := q.DequeueOne("nobody")
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestDrainUntil(t *testing.T) {
	tests := []struct {
		name      string
		items     []int
		match     int
		wantFound bool
		drained   []int
		remaining []int
	}{
		{"first element", []int{1, 2, 3}, 1, true, []int{1}, []int{2, 3}},
		{"middle element", []int{1, 2, 3, 4}, 3, true, []int{1, 2, 3}, []int{4}},
		{"last element", []int{1, 2, 3}, 3, true, []int{1, 2, 3}, nil},
		{"first of duplicates", []int{5, 7, 5}, 5, true, []int{5}, []int{7, 5}},
		{"no match", []int{1, 2, 3}, 9, false, nil, []int{1, 2, 3}},
		{"empty queue", nil, 1, false, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[string, int]()
			for _, v := range tt.items {
				q.Enqueue("k", v)
			}

			drained, found := q.DrainUntil("k", func(v int) bool { return v == tt.match })
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.drained, drained)

			rest := q.Snapshot("k")
			if len(tt.remaining) == 0 {
				assert.Empty(t, rest)
			} else {
				assert.Equal(t, tt.remaining, rest)
			}
		})
	}
}

func TestDrainUntilLeavesOtherKeysAlone(t *testing.T) {
	q := New[string, int]()
	q.Enqueue("a", 1)
	q.Enqueue("b", 1)
	q.Enqueue("a", 2)

	_, found := q.DrainUntil("a", func(v int) bool { return v == 2 })
	require.True(t, found)
	assert.Equal(t, 0, q.Len("a"))
	assert.Equal(t, 1, q.Len("b"))
	assert.Equal(t, []string{"b"}, q.Keys())
}

func TestDrainAllAndReuse(t *testing.T) {
	q := New[string, int]()
	q.Enqueue("a", 1)
	q.Enqueue("a", 2)

	assert.Equal(t, []int{1, 2}, q.DrainAll("a"))
	assert.Nil(t, q.DrainAll("a"))

	q.Enqueue("a", 3)
	v, ok := q.DequeueOne("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestRemoveFunc(t *testing.T) {
	q := New[string, int]()
	for i := 1; i <= 6; i++ {
		q.Enqueue("a", i)
	}

	removed := q.RemoveFunc("a", func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{2, 4, 6}, removed)
	assert.Equal(t, []int{1, 3, 5}, q.Snapshot("a"))
	assert.Nil(t, q.RemoveFunc("a", func(v int) bool { return v > 10 }))
}

func TestConcurrentEnqueueKeepsPerProducerOrder(t *testing.T) {
	q := New[string, int]()
	const producers, per = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				q.Enqueue(key, i)
			}
		}(fmt.Sprintf("vehicle-%d", p))
	}
	wg.Wait()

	assert.Equal(t, producers*per, q.Size())
	for _, key := range q.Keys() {
		items := q.DrainAll(key)
		require.Len(t, items, per)
		for i, v := range items {
			assert.Equal(t, i, v)
		}
	}
}
