package queue

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	link  Queue[item]
	key   int
	order int
}

func newItems(keys ...int) []*item {
	items := make([]*item, len(keys))
	for i, k := range keys {
		items[i] = &item{key: k, order: i}
		items[i].link.SetData(items[i])
	}
	return items
}

func drain(q *Queue[item]) []int {
	var out []int
	for !q.Empty() {
		x := q.Head()
		x.Remove()
		out = append(out, x.Data().key)
	}
	return out
}

func keys(q *Queue[item]) []int {
	var out []int
	for v := range q.All() {
		out = append(out, v.key)
	}
	return out
}

func TestQueue_InsertTailIsFIFO(t *testing.T) {
	var q Queue[item]
	q.Init()
	require.True(t, q.Empty())

	for _, it := range newItems(1, 2, 3, 4) {
		q.InsertTail(&it.link)
	}

	assert.Equal(t, 4, q.Len())
	assert.Equal(t, []int{1, 2, 3, 4}, drain(&q))
	assert.True(t, q.Empty())
}

func TestQueue_InsertHeadReverses(t *testing.T) {
	var q Queue[item]
	q.Init()

	for _, it := range newItems(1, 2, 3, 4) {
		q.InsertHead(&it.link)
	}

	assert.Equal(t, []int{4, 3, 2, 1}, drain(&q))
}

func TestQueue_HeadLastSentinel(t *testing.T) {
	var q Queue[item]
	q.Init()
	assert.Equal(t, q.Sentinel(), q.Head())
	assert.Equal(t, q.Sentinel(), q.Last())
	assert.Nil(t, q.Head().Data())

	items := newItems(7, 8)
	q.InsertTail(&items[0].link)
	q.InsertTail(&items[1].link)

	assert.Equal(t, items[0], q.Head().Data())
	assert.Equal(t, items[1], q.Last().Data())
	assert.Equal(t, &items[1].link, q.Head().Next())
	assert.Equal(t, &items[0].link, q.Last().Prev())
	assert.Equal(t, q.Sentinel(), q.Last().Next())
}

func TestQueue_RemoveMiddleClearsLinks(t *testing.T) {
	var q Queue[item]
	q.Init()
	items := newItems(1, 2, 3)
	for _, it := range items {
		q.InsertTail(&it.link)
	}

	require.True(t, items[1].link.Linked())
	items[1].link.Remove()
	assert.False(t, items[1].link.Linked())
	assert.Equal(t, []int{1, 3}, keys(&q))
}

func TestQueue_InsertAfterAndBefore(t *testing.T) {
	var q Queue[item]
	q.Init()
	items := newItems(1, 2, 3, 4)
	q.InsertTail(&items[0].link)
	q.InsertTail(&items[3].link)
	items[0].link.InsertAfter(&items[1].link)
	items[3].link.InsertBefore(&items[2].link)

	assert.Equal(t, []int{1, 2, 3, 4}, keys(&q))
}

func TestQueue_SplitAndAdd(t *testing.T) {
	var q, n Queue[item]
	q.Init()
	items := newItems(1, 2, 3, 4, 5)
	for _, it := range items {
		q.InsertTail(&it.link)
	}

	q.Split(&items[2].link, &n)
	assert.Equal(t, []int{1, 2}, keys(&q))
	assert.Equal(t, []int{3, 4, 5}, keys(&n))

	q.Add(&n)
	assert.True(t, n.Empty())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, keys(&q))
}

func TestQueue_AddEmptyIsNoop(t *testing.T) {
	var q, n Queue[item]
	q.Init()
	n.Init()
	items := newItems(1)
	q.InsertTail(&items[0].link)

	q.Add(&n)
	assert.Equal(t, []int{1}, keys(&q))
	assert.True(t, n.Empty())

	q.Init()
	n.InsertTail(&items[0].link)
	q.Add(&n)
	assert.Equal(t, []int{1}, keys(&q))
}

func TestQueue_AllAllowsRemoval(t *testing.T) {
	var q Queue[item]
	q.Init()
	for _, it := range newItems(1, 2, 3, 4) {
		q.InsertTail(&it.link)
	}

	for v := range q.All() {
		if v.key%2 == 0 {
			v.link.Remove()
		}
	}
	assert.Equal(t, []int{1, 3}, keys(&q))
}

func TestQueue_Middle(t *testing.T) {
	for _, tc := range []struct {
		n    int
		want int
	}{
		{1, 0},
		{2, 1},
		{3, 1},
		{4, 2},
		{5, 2},
		{10, 5},
	} {
		var q Queue[item]
		q.Init()
		ks := make([]int, tc.n)
		for i := range ks {
			ks[i] = i
		}
		for _, it := range newItems(ks...) {
			q.InsertTail(&it.link)
		}
		m := q.Middle()
		require.NotNil(t, m, "n=%d", tc.n)
		assert.Equal(t, tc.want, m.Data().key, "n=%d", tc.n)
	}

	var empty Queue[item]
	empty.Init()
	assert.Nil(t, empty.Middle())
}

func TestQueue_SortStable(t *testing.T) {
	byKey := func(a, b *item) int { return a.key - b.key }

	for n := 0; n <= 33; n++ {
		rng := rand.New(rand.NewSource(int64(n)))
		ks := make([]int, n)
		for i := range ks {
			// few distinct keys, to force ties
			ks[i] = rng.Intn(4)
		}
		items := newItems(ks...)

		var q Queue[item]
		q.Init()
		for _, it := range items {
			q.InsertTail(&it.link)
		}

		q.Sort(byKey)

		var got []*item
		for v := range q.All() {
			got = append(got, v)
		}
		require.Len(t, got, n)

		want := slices.Clone(items)
		slices.SortStableFunc(want, byKey)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("n=%d: position %d: got key=%d order=%d, want key=%d order=%d",
					n, i, got[i].key, got[i].order, want[i].key, want[i].order)
			}
		}
	}
}

func TestQueue_SortKeepsHeaderUsable(t *testing.T) {
	var q Queue[item]
	q.Init()
	for _, it := range newItems(3, 1, 2) {
		q.InsertTail(&it.link)
	}
	q.Sort(func(a, b *item) int { return a.key - b.key })

	extra := newItems(0)
	q.InsertHead(&extra[0].link)
	assert.Equal(t, []int{0, 1, 2, 3}, drain(&q))
}
