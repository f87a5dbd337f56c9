package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestEmptyAfterInit(t *testing.T) {
	var head Node[int]
	head.Init()
	assert.True(t, head.Empty())
}

func TestInsertBeforeAppendsAtTail(t *testing.T) {
	var head Node[string]
	head.Init()

	var a, b, c Node[string]
	a.Value, b.Value, c.Value = "a", "b", "c"

	head.InsertBefore(&a)
	head.InsertBefore(&b)
	head.InsertBefore(&c)

	var got []string
	head.Do(func(n *Node[string]) { got = append(got, n.Value) })

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestInsertAfterPrepends(t *testing.T) {
	var head Node[string]
	head.Init()

	var a, b Node[string]
	a.Value, b.Value = "a", "b"

	head.InsertAfter(&a)
	head.InsertAfter(&b)

	var got []string
	head.Do(func(n *Node[string]) { got = append(got, n.Value) })

	assert.Equal(t, []string{"b", "a"}, got)
}

func TestRemoveSelfLinksAndIsReinsertable(t *testing.T) {
	var head Node[int]
	head.Init()

	var a, b Node[int]
	a.Value, b.Value = 1, 2
	head.InsertBefore(&a)
	head.InsertBefore(&b)

	a.Remove()
	assert.True(t, a.Empty())

	var got []int
	head.Do(func(n *Node[int]) { got = append(got, n.Value) })
	assert.Equal(t, []int{2}, got)

	head.InsertBefore(&a)
	got = nil
	head.Do(func(n *Node[int]) { got = append(got, n.Value) })
	assert.Equal(t, []int{2, 1}, got)
}

// Property: for any sequence of insert-before / remove operations applied
// to a sentinel, the list visited by Do always matches the order implied
// by a plain slice model, and Empty() agrees with "slice is empty".
func TestInsertRemoveRoundTripsAgainstModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var head Node[int]
		head.Init()

		nodes := make([]*Node[int], 8)
		for i := range nodes {
			nodes[i] = &Node[int]{Value: i}
		}
		linked := make(map[int]bool)
		var model []int

		steps := rapid.IntRange(0, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			idx := rapid.IntRange(0, len(nodes)-1).Draw(t, "idx")
			if linked[idx] {
				nodes[idx].Remove()
				linked[idx] = false
				for j, v := range model {
					if v == idx {
						model = append(model[:j], model[j+1:]...)
						break
					}
				}
			} else {
				head.InsertBefore(nodes[idx])
				linked[idx] = true
				model = append(model, idx)
			}
		}

		var got []int
		head.Do(func(n *Node[int]) { got = append(got, n.Value) })
		assert.Equal(t, model, got)
		assert.Equal(t, len(model) == 0, head.Empty())
	})
}
