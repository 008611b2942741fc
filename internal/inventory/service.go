package inventory

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Service tracks out-of-stock products from stock adjustment events. Negative stock
// (oversold) is recorded and logged, never rejected.
type Service struct {
	Redis       *redis.Client
	Log         *zap.Logger
	ServiceName string
}

// HandleStockAdjusted: dipasang sebagai handler consumer.
func (s *Service) HandleStockAdjusted(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.Decode[orders.Envelope](m)
	if err != nil {
		return kafkax.Permanent(err)
	}
	if env.EventType != orders.EventStockAdjusted {
		return nil // ignore
	}

	// 2) dedup via Redis (pakai event_id)
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if seen, err := redisx.Exists(ctx, s.Redis, dkey); err != nil {
		return err
	} else if seen {
		return nil
	}

	// 3) decode payload
	p, err := kafkax.DecodePayload[orders.StockAdjustedPayload](env.Payload)
	if err != nil {
		return kafkax.Permanent(err)
	}

	// event per produk bisa datang tidak urut (partisi per order), versi stok yang menentukan
	for _, adj := range p.Adjustments {
		applied, err := redisx.MarkStock(ctx, s.Redis, adj.ProductID, adj.Stock, adj.Version)
		if err != nil {
			return fmt.Errorf("mark stock %s: %w", adj.ProductID, err)
		}
		if !applied {
			s.Log.Debug("stale stock adjustment",
				zap.String("product_id", adj.ProductID),
				zap.Int64("version", adj.Version),
				zap.String("event_id", env.EventID))
			continue
		}
		if adj.Stock < 0 {
			s.Log.Warn("product oversold",
				zap.String("product_id", adj.ProductID),
				zap.Int("stock", adj.Stock),
				zap.String("order_id", p.OrderID))
		}
	}

	// 4) tandai selesai setelah sukses, supaya kegagalan di atas masih bisa di-retry
	return s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
}
