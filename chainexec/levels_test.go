package chainexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/domain/chain"
)

func TestLevelGroupsIndependentLinksShareLevel(t *testing.T) {
	links := []chain.Link{
		{ID: "a"},
		{ID: "b"},
	}
	levels, err := levelGroups(links)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, levels[0])
}

func TestLevelGroupsRespectsDependencyOrder(t *testing.T) {
	links := []chain.Link{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	levels, err := levelGroups(links)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a"}, levels[0])
	assert.Equal(t, []string{"b"}, levels[1])
	assert.Equal(t, []string{"c"}, levels[2])
}

func TestLevelGroupsDetectsCycle(t *testing.T) {
	links := []chain.Link{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	_, err := levelGroups(links)
	require.Error(t, err)
	var cycleErr *chain.CircularDependencyError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestLevelGroupsDiamondDependency(t *testing.T) {
	links := []chain.Link{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
	}
	levels, err := levelGroups(links)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a"}, levels[0])
	assert.ElementsMatch(t, []string{"b", "c"}, levels[1])
	assert.Equal(t, []string{"d"}, levels[2])
}
