package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, Ping(context.Background(), rdb))
	return mr, rdb
}

func TestStatusCache(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	c := &StatusCache{Redis: rdb}

	_, ok, err := c.GetStatus(ctx, "O1")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.PutStatus(ctx, "O1", orders.StatusDelivered, 2, at))

	cs, ok, err := c.GetStatus(ctx, "O1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusDelivered, cs.Status)
	assert.Equal(t, int64(2), cs.Version)
	assert.True(t, cs.UpdatedAt.Equal(at))
	assert.Equal(t, TTLStatusCache, mr.TTL("order_status:O1"))

	require.NoError(t, c.Evict(ctx, "O1"))
	_, ok, err = c.GetStatus(ctx, "O1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCacheKeepsNewerVersion(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	c := &StatusCache{Redis: rdb}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// commit v3 selesai duluan, tulisan cache v2 datang terlambat
	require.NoError(t, c.PutStatus(ctx, "O1", orders.StatusDelivered, 3, at.Add(time.Second)))
	require.NoError(t, c.PutStatus(ctx, "O1", orders.StatusPending, 2, at))

	cs, ok, err := c.GetStatus(ctx, "O1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusDelivered, cs.Status)
	assert.Equal(t, int64(3), cs.Version)

	// versi sama boleh ditulis ulang (read-through dari store)
	require.NoError(t, c.PutStatus(ctx, "O1", orders.StatusDelivered, 3, at.Add(time.Second)))
	require.NoError(t, c.PutStatus(ctx, "O1", orders.StatusProgress, 4, at.Add(2*time.Second)))
	cs, _, err = c.GetStatus(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProgress, cs.Status)
	assert.Equal(t, int64(4), cs.Version)
}

func TestIdempotencyKeys(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()

	_, ok, err := LookupIdempotent(ctx, rdb, "u1", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, RememberIdempotent(ctx, rdb, "u1", "k1", "O1"))

	id, ok, err := LookupIdempotent(ctx, rdb, "u1", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "O1", id)

	// key dipisah per akun
	_, ok, err = LookupIdempotent(ctx, rdb, "u2", "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkStock(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()

	mark := func(id string, stock int, version int64) bool {
		t.Helper()
		applied, err := MarkStock(ctx, rdb, id, stock, version)
		require.NoError(t, err)
		return applied
	}

	assert.True(t, mark("P2", 0, 0))
	assert.True(t, mark("P1", -3, 1))
	assert.True(t, mark("P3", 4, 1))

	ids, err := OutOfStock(ctx, rdb)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, ids)

	assert.True(t, mark("P1", 1, 2))
	ids, err = OutOfStock(ctx, rdb)
	require.NoError(t, err)
	assert.Equal(t, []string{"P2"}, ids)
}

func TestMarkStockIgnoresOlderVersion(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()

	// versi 5 (stok 1) diproses sebelum versi 4 (stok -1)
	applied, err := MarkStock(ctx, rdb, "P1", 1, 5)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = MarkStock(ctx, rdb, "P1", -1, 4)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = MarkStock(ctx, rdb, "P1", -1, 5)
	require.NoError(t, err)
	assert.False(t, applied, "same version is a duplicate")

	ids, err := OutOfStock(ctx, rdb)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStockSet(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	set := &StockSet{Redis: rdb}

	require.NoError(t, set.Sync(ctx, []orders.Product{
		{ID: "P1", Stock: 10},
		{ID: "P2", Stock: 0},
		{ID: "P3", Stock: 2, StockVersion: 7},
	}))
	ids, err := OutOfStock(ctx, rdb)
	require.NoError(t, err)
	assert.Equal(t, []string{"P2"}, ids)

	require.NoError(t, set.MarkStock(ctx, []orders.StockAdjustment{
		{ProductID: "P1", Delta: -10, Stock: 0, Version: 1},
		{ProductID: "P3", Delta: -3, Stock: -1, Version: 6}, // lebih lama dari hasil Sync
	}))
	ids, err = OutOfStock(ctx, rdb)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, ids)
}

func TestNotifierPubSub(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	n := &Notifier{Redis: rdb}

	sub, err := n.Subscribe(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, n.Notify(ctx, "u1"))
	select {
	case _, ok := <-sub.Changes():
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Changes():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}
