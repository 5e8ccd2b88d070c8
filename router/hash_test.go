package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	require.Equal(t, Hash("route-a"), Hash("route-a"))
	require.Equal(t, Hash(42), Hash(42))
	require.Equal(t, Hash(nil), uint64(0))
	require.Equal(t, Hash(map[string]interface{}{"a": 1, "b": 2}), Hash(map[string]interface{}{"b": 2, "a": 1}))
}

func TestHashCyclicObjectDoesNotPanic(t *testing.T) {
	type node struct {
		Name string
		Next *node
	}
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	require.NotPanics(t, func() {
		Hash(a)
	})
}

func TestSelectStringRouteMatchesServerID(t *testing.T) {
	servers := []string{"s1", "s2", "s3"}
	id, err := Select("s2", servers, map[string]bool{"s1": true, "s2": true, "s3": true})
	require.NoError(t, err)
	require.Equal(t, "s2", id)
}

func TestSelectPrefersReadySubset(t *testing.T) {
	servers := []string{"s1", "s2", "s3"}
	ready := map[string]bool{"s2": true}
	id, err := Select("anything", servers, ready)
	require.NoError(t, err)
	require.Equal(t, "s2", id)
}

func TestSelectFallsBackToFullSetWhenNoneReady(t *testing.T) {
	servers := []string{"s1", "s2"}
	id, err := Select("route", servers, map[string]bool{})
	require.NoError(t, err)
	require.Contains(t, servers, id)
}

func TestSelectErrorsOnEmptyServerSet(t *testing.T) {
	_, err := Select("route", nil, nil)
	require.ErrorIs(t, err, ErrNoServers)
}

func TestSelectStableAcrossCalls(t *testing.T) {
	servers := []string{"s1", "s2", "s3", "s4"}
	ready := map[string]bool{"s1": true, "s2": true, "s3": true, "s4": true}
	first, err := Select(123, servers, ready)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Select(123, servers, ready)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}
