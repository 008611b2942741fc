package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{account_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cache status order (hash): order_status:{order_id} -> status, version, updated_at
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Channel Pub/Sub per akun: orders:changed:{account_id}
	ChannelOrdersChanged = "orders:changed:%s"

	// Set produk dengan stok <= 0
	KeyOutOfStock = "inventory:out_of_stock"

	// Hash versi stok terakhir yang sudah ditandai: field product_id -> stock_version
	KeyStockVersion = "inventory:stock_version"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
