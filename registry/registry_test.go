// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/autorpc/abi"
)

func mustFunc(t *testing.T) abi.Callable {
	t.Helper()
	c, err := abi.Func(func(int32) {})
	require.NoError(t, err)
	return c
}

func TestIndexStability(t *testing.T) {
	r := New()
	ids := []Identifier{{Name: "a"}, {Name: "b"}, {Name: "a", IsInstanceMethod: true}, {Name: "c"}}
	for _, id := range ids {
		require.NoError(t, r.Register(id, mustFunc(t)))
	}
	require.Equal(t, len(ids), r.Len())

	require.NoError(t, r.Unregister(ids[1]))
	for i, id := range ids {
		got, ok := r.IndexOf(id)
		require.True(t, ok)
		require.Equal(t, i, got)
	}
	e, err := r.Entry(1)
	require.NoError(t, err)
	require.True(t, e.Callable.IsTombstone())
	require.Equal(t, ids[1], e.ID)

	require.NoError(t, r.Register(Identifier{Name: "d"}, mustFunc(t)))
	i, _ := r.IndexOf(Identifier{Name: "d"})
	require.Equal(t, 4, i)

	require.NoError(t, r.Register(ids[1], mustFunc(t)))
	i, _ = r.IndexOf(ids[1])
	require.Equal(t, 1, i, "revived in place")
	require.Equal(t, 5, r.Len())
}

func TestRegisterErrors(t *testing.T) {
	r := New()
	id := Identifier{Name: "f"}
	require.NoError(t, r.Register(id, mustFunc(t)))
	require.ErrorIs(t, r.Register(id, mustFunc(t)), ErrAlreadyRegistered)
	require.ErrorIs(t, r.Register(Identifier{}, mustFunc(t)), ErrEmptyName)
	require.ErrorIs(t, r.Register(Identifier{Name: "g"}, abi.Callable{}), abi.ErrTombstone)

	require.NoError(t, r.Unregister(id))
	require.ErrorIs(t, r.Unregister(id), ErrNotRegistered)
	require.ErrorIs(t, r.Unregister(Identifier{Name: "missing"}), ErrNotRegistered)

	_, err := r.Entry(1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = r.Entry(-1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestHasName(t *testing.T) {
	r := New()
	m, err := abi.Method("Move")
	require.NoError(t, err)
	require.NoError(t, r.Register(Identifier{Name: "Move", IsInstanceMethod: true}, m))
	require.True(t, r.HasName("Move", true))
	require.False(t, r.HasName("Move", false))
}

func TestRemoteCacheFirstWriteWins(t *testing.T) {
	c := NewRemoteCache[string]()
	id := Identifier{Name: "Ping"}
	require.True(t, c.Advertise("p1", id, 3))
	require.False(t, c.Advertise("p1", id, 9))
	got, ok := c.Lookup("p1", id)
	require.True(t, ok)
	require.Equal(t, uint32(3), got)

	require.True(t, c.Advertise("p2", id, 9))
	got, _ = c.Lookup("p2", id)
	require.Equal(t, uint32(9), got)

	require.False(t, c.Advertise("p1", Identifier{}, 1))
	_, ok = c.Lookup("p3", id)
	require.False(t, ok)
}

func TestRemoteCachePurge(t *testing.T) {
	c := NewRemoteCache[string]()
	c.Advertise("p1", Identifier{Name: "a"}, 0)
	c.Advertise("p1", Identifier{Name: "b", IsInstanceMethod: true}, 1)
	c.Advertise("p2", Identifier{Name: "a"}, 4)
	require.ElementsMatch(t, []string{"p1", "p2"}, c.Peers())

	require.Equal(t, 2, c.Purge("p1"))
	require.Zero(t, c.Len("p1"))
	_, ok := c.Lookup("p1", Identifier{Name: "a"})
	require.False(t, ok)
	require.Equal(t, 1, c.Len("p2"))
	require.Zero(t, c.Purge("p1"))

	require.True(t, c.Advertise("p1", Identifier{Name: "a"}, 7))
}
