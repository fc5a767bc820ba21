package waitgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoCycleOnEmptyGraph(t *testing.T) {
	g := New()
	require.False(t, g.HasCycle(1))
}

func TestDirectCycle(t *testing.T) {
	g := New()
	g.Add(1, []int64{2})
	g.Add(2, []int64{1})
	require.True(t, g.HasCycle(1))
}

func TestNoCycleInChain(t *testing.T) {
	g := New()
	g.Add(1, []int64{2})
	g.Add(2, []int64{3})
	require.False(t, g.HasCycle(1))
}

func TestRemoveBreaksCycle(t *testing.T) {
	g := New()
	g.Add(1, []int64{2})
	g.Add(2, []int64{1})
	g.Remove(2)
	require.False(t, g.HasCycle(1))
}

func TestLongerCycle(t *testing.T) {
	g := New()
	g.Add(1, []int64{2})
	g.Add(2, []int64{3})
	g.Add(3, []int64{1})
	require.True(t, g.HasCycle(1))
}
