package hashset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddContainsRemove(t *testing.T) {
	s := New()
	require.False(t, s.Contains(1))

	s.Add(1)
	require.True(t, s.Contains(1))
	require.Equal(t, 1, s.Len())

	s.Add(1)
	require.Equal(t, 1, s.Len(), "re-adding the same id must not grow the set")

	s.Remove(1)
	require.False(t, s.Contains(1))
	require.Equal(t, 0, s.Len())
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	s := New()
	s.Remove(42)
	require.Equal(t, 0, s.Len())
}

func TestResizeAcrossLoadFactorThreshold(t *testing.T) {
	s := New()
	for i := int64(0); i < 1000; i++ {
		s.Add(i)
	}
	require.Equal(t, 1000, s.Len())
	for i := int64(0); i < 1000; i++ {
		require.True(t, s.Contains(i))
	}
}

func TestSliceContainsAllMembers(t *testing.T) {
	s := New()
	want := map[int64]bool{10: true, 20: true, 30: true}
	for k := range want {
		s.Add(k)
	}

	got := s.Slice()
	require.Len(t, got, len(want))
	for _, v := range got {
		require.True(t, want[v])
	}
}
