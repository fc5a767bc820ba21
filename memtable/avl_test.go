package memtable

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vela-db/vela/codec"
)

func TestInsertFindOverwrite(t *testing.T) {
	tr := New()
	tr.Insert(codec.Record{Key: int64(1), Value: "a"})
	v, ok := tr.Find(int64(1))
	require.True(t, ok)
	require.Equal(t, "a", v.Value)

	tr.Insert(codec.Record{Key: int64(1), Value: "b"})
	v, ok = tr.Find(int64(1))
	require.True(t, ok)
	require.Equal(t, "b", v.Value)
	require.Equal(t, 1, tr.Size())
}

func TestDeleteTombstonesInPlace(t *testing.T) {
	tr := New()
	tr.Insert(codec.Record{Key: int64(1), Value: "a"})
	tr.Delete(int64(1))

	v, ok := tr.Find(int64(1))
	require.True(t, ok, "tombstoned record must still be found by the tree")
	require.True(t, v.Tombstone)
	require.Equal(t, 1, tr.Size())
}

func TestDeleteAbsentKeyInsertsTombstone(t *testing.T) {
	tr := New()
	tr.Delete(int64(99))

	v, ok := tr.Find(int64(99))
	require.True(t, ok, "deleting an absent key must still leave a tombstoned node behind")
	require.True(t, v.Tombstone)
	require.Equal(t, 1, tr.Size())
}

func TestIterInKeyOrder(t *testing.T) {
	tr := New()
	keys := []int64{5, 1, 9, 3, 7, 2, 8, 4, 6}
	for _, k := range keys {
		tr.Insert(codec.Record{Key: k, Value: k})
	}

	records := tr.Iter()
	require.Len(t, records, len(keys))
	for i := 1; i < len(records); i++ {
		require.Less(t, records[i-1].Key.(int64), records[i].Key.(int64))
	}
}

// TestBalanceFactorInvariant inserts a large number of keys in random
// order and checks that every node's AVL balance factor stays within
// [-1, 1], per spec.md §4.2.
func TestBalanceFactorInvariant(t *testing.T) {
	tr := New()
	r := rand.New(rand.NewSource(42))
	keys := r.Perm(2000)
	for _, k := range keys {
		tr.Insert(codec.Record{Key: int64(k), Value: k})
	}

	var walk func(*node) int
	walk = func(n *node) int {
		if n == nil {
			return 0
		}
		require.GreaterOrEqual(t, n.balance, -1)
		require.LessOrEqual(t, n.balance, 1)
		lh := walk(n.left)
		rh := walk(n.right)
		require.Equal(t, lh-rh, n.balance)
		height := lh
		if rh > lh {
			height = rh
		}
		return height + 1
	}
	walk(tr.root)
}
