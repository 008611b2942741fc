package redisx

import (
	"context"
	"sort"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] set out-of-stock, KEYS[2] hash versi stok per produk.
// ARGV: product id, stok, versi. Versi yang tidak lebih baru dari yang tersimpan diabaikan.
var markStockScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '-1')
local ver = tonumber(ARGV[3])
if ver <= cur then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
if tonumber(ARGV[2]) <= 0 then
	redis.call('SADD', KEYS[1], ARGV[1])
else
	redis.call('SREM', KEYS[1], ARGV[1])
end
return 1
`)

// MarkStock keeps productID in the out-of-stock set while stock <= 0. It only applies
// when version is newer than the last one marked for the product and reports whether it did.
func MarkStock(ctx context.Context, rdb *redis.Client, productID string, stock int, version int64) (bool, error) {
	n, err := markStockScript.Run(ctx, rdb, []string{KeyOutOfStock, KeyStockVersion}, productID, stock, version).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func OutOfStock(ctx context.Context, rdb *redis.Client) ([]string, error) {
	ids, err := rdb.SMembers(ctx, KeyOutOfStock).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// StockSet is the out-of-stock set as an orders.StockIndex.
type StockSet struct {
	Redis *redis.Client
}

var _ orders.StockIndex = (*StockSet)(nil)

func (s *StockSet) MarkStock(ctx context.Context, adjustments []orders.StockAdjustment) error {
	for _, adj := range adjustments {
		if _, err := MarkStock(ctx, s.Redis, adj.ProductID, adj.Stock, adj.Version); err != nil {
			return err
		}
	}
	return nil
}

// Sync marks every product from a full listing, e.g. at startup, so products that
// were out of stock before any adjustment are in the set too.
func (s *StockSet) Sync(ctx context.Context, products []orders.Product) error {
	for _, p := range products {
		if _, err := MarkStock(ctx, s.Redis, p.ID, p.Stock, p.StockVersion); err != nil {
			return err
		}
	}
	return nil
}
