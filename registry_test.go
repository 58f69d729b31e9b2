package eonclos

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connIDs(conns []*Connection) []int {
	ids := make([]int, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.ID)
	}
	return ids
}

func TestRegistryExpiringExact(t *testing.T) {
	reg := CreateConnRegistry()
	for _, conn := range []*Connection{
		{ID: 4, Expiry: 7},
		{ID: 1, Expiry: 5},
		{ID: 3, Expiry: 5},
		{ID: 2, Expiry: 9},
	} {
		require.NoError(t, reg.Register(conn))
	}
	assert.Equal(t, 4, reg.Len())
	assert.Equal(t, []int{1, 2, 3, 4}, connIDs(reg.Active()))

	next, ok := reg.NextExpiry()
	assert.True(t, ok)
	assert.Equal(t, 5, next)

	for tick := 0; tick < 5; tick++ {
		expiring, err := reg.Expiring(tick)
		require.NoError(t, err)
		assert.Empty(t, expiring)
	}
	expiring, err := reg.Expiring(5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, connIDs(expiring))
	assert.Equal(t, 2, reg.Len())

	_, live := reg.Get(1)
	assert.False(t, live)
	conn, live := reg.Get(4)
	assert.True(t, live)
	assert.Equal(t, 7, conn.Expiry)
}

func TestRegistryDuplicateID(t *testing.T) {
	reg := CreateConnRegistry()
	require.NoError(t, reg.Register(&Connection{ID: 1, Expiry: 3}))
	err := reg.Register(&Connection{ID: 1, Expiry: 4})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryMissedExpiry(t *testing.T) {
	reg := CreateConnRegistry()
	require.NoError(t, reg.Register(&Connection{ID: 1, Expiry: 3}))
	_, err := reg.Expiring(4)
	assert.Error(t, err)
}

func TestRegistryRemove(t *testing.T) {
	reg := CreateConnRegistry()
	require.NoError(t, reg.Register(&Connection{ID: 1, Expiry: 3}))
	require.NoError(t, reg.Register(&Connection{ID: 2, Expiry: 6}))

	conn, ok := reg.Remove(1)
	require.True(t, ok)
	assert.Equal(t, 1, conn.ID)
	_, ok = reg.Remove(1)
	assert.False(t, ok)

	next, ok := reg.NextExpiry()
	assert.True(t, ok)
	assert.Equal(t, 6, next)

	// the removed connection is neither reported nor treated as missed
	expiring, err := reg.Expiring(6)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, connIDs(expiring))
	_, ok = reg.NextExpiry()
	assert.False(t, ok)
}

func TestRegistryReuseIDAfterExpiry(t *testing.T) {
	reg := CreateConnRegistry()
	require.NoError(t, reg.Register(&Connection{ID: 1, Expiry: 2}))
	_, err := reg.Expiring(2)
	require.NoError(t, err)
	assert.NoError(t, reg.Register(&Connection{ID: 1, Expiry: 5}))
}
