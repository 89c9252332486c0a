package correlator

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisDedup(t *testing.T) (*RedisDedup, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisDedup(client, "test:"), mr
}

func TestRedisDedupFirstArrivalIsNew(t *testing.T) {
	d, _ := newTestRedisDedup(t)
	isNew, err := d.Admit("t1:s1:gate:person", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestRedisDedupSecondArrivalWithinWindowIsNotNew(t *testing.T) {
	d, _ := newTestRedisDedup(t)
	_, err := d.Admit("t1:s1:gate:person", 30*time.Second)
	require.NoError(t, err)

	isNew, err := d.Admit("t1:s1:gate:person", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestRedisDedupArrivalAfterWindowExpiryIsNewAgain(t *testing.T) {
	d, mr := newTestRedisDedup(t)
	_, err := d.Admit("t1:s1:gate:person", 5*time.Second)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	isNew, err := d.Admit("t1:s1:gate:person", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestRedisDedupDistinctGroupKeysAreIndependent(t *testing.T) {
	d, _ := newTestRedisDedup(t)
	isNewA, err := d.Admit("t1:s1:gate:person", 30*time.Second)
	require.NoError(t, err)
	isNewB, err := d.Admit("t1:s1:gate:vehicle", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, isNewA)
	assert.True(t, isNewB)
}
