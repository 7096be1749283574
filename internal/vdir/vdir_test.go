package vdir

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_MarkAddsAncestors(t *testing.T) {
	ix := New()
	ix.Mark("a/b/c")

	assert.True(t, ix.Contains("a"))
	assert.True(t, ix.Contains("a/b"))
	assert.True(t, ix.Contains("a/b/c"))
	assert.False(t, ix.Contains("a/b/c/d"))
	assert.False(t, ix.Contains("b"))
	assert.Equal(t, 3, ix.Len())
}

func TestIndex_RootAlwaysExists(t *testing.T) {
	ix := New()
	assert.True(t, ix.Contains(""))
	assert.True(t, ix.Contains("/"))
}

func TestIndex_MarkIsIdempotent(t *testing.T) {
	ix := New()
	ix.Mark("x/y")
	ix.Mark("/x/y/")
	ix.Mark("x//y")
	assert.Equal(t, 2, ix.Len())
}

func TestIndex_MarkEmptyIsNoop(t *testing.T) {
	ix := New()
	ix.Mark("")
	ix.Mark("///")
	assert.Equal(t, 0, ix.Len())
}

func TestIndex_NormalizesLookups(t *testing.T) {
	ix := New()
	ix.Mark("a/b")
	assert.True(t, ix.Contains("/a/b/"))
	assert.True(t, ix.Contains("a//b"))
}

func TestIndex_ChildNames(t *testing.T) {
	ix := New()
	ix.Mark("a/b/c")
	ix.Mark("a/d")
	ix.Mark("e")

	root := ix.ChildNames("")
	require.Len(t, root, 2)
	assert.Contains(t, root, "a")
	assert.Contains(t, root, "e")

	underA := ix.ChildNames("a")
	require.Len(t, underA, 2)
	assert.Contains(t, underA, "b")
	assert.Contains(t, underA, "d")

	underB := ix.ChildNames("a/b")
	require.Len(t, underB, 1)
	assert.Contains(t, underB, "c")

	assert.Empty(t, ix.ChildNames("a/b/c"))
	assert.Empty(t, ix.ChildNames("nope"))
}

func TestIndex_ChildNamesDeduplicates(t *testing.T) {
	ix := New()
	ix.Mark("a/b/c")
	ix.Mark("a/b/d")

	// Both entries share the child "b" under "a".
	underA := ix.ChildNames("a")
	require.Len(t, underA, 1)
	assert.Contains(t, underA, "b")
}

func TestIndex_ConcurrentMarkAndRead(t *testing.T) {
	ix := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ix.Mark(fmt.Sprintf("dir%d/sub%d", n, j))
				_ = ix.Contains(fmt.Sprintf("dir%d", n))
				_ = ix.ChildNames("")
			}
		}(i)
	}
	wg.Wait()

	root := ix.ChildNames("")
	assert.Len(t, root, 16)
}
