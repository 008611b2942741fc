package orders

import (
	"context"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrProductNotFound        = errors.New("product not found")
	ErrInvalidOrder           = errors.New("invalid order")
	ErrConcurrentModification = errors.New("order was modified concurrently")
)

// Store is the persisted order and inventory collections.
type Store interface {
	CreateOrder(ctx context.Context, accountID string, in NewOrder) (Order, error)
	GetOrder(ctx context.Context, accountID, orderID string) (Order, error)
	ListAccountOrders(ctx context.Context, accountID string) ([]Order, error)
	ListAllOrders(ctx context.Context) ([]Order, error)
	UpdateOrderFields(ctx context.Context, accountID, orderID string, f FieldUpdate) (Order, error)
	DeleteOrder(ctx context.Context, accountID, orderID string) (Order, error)

	ListProducts(ctx context.Context) ([]Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) (StockAdjustment, error)

	// InTx runs fn in one atomic unit. Nothing fn wrote survives if it returns an error.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the store inside one reconciliation unit.
type Tx interface {
	GetOrder(ctx context.Context, accountID, orderID string) (Order, error)
	// AdjustStock applies every delta with the store's atomic increment.
	AdjustStock(ctx context.Context, deltas []StockDelta) ([]StockAdjustment, error)
	// WriteStatus succeeds only while the stored version still equals expectedVersion,
	// otherwise it returns ErrConcurrentModification.
	WriteStatus(ctx context.Context, accountID, orderID string, expectedVersion int64, status Status, paymentMethod string) (Order, error)
}

// Notifier pushes "orders of this account changed" signals.
type Notifier interface {
	Notify(ctx context.Context, accountID string) error
	Subscribe(ctx context.Context, accountID string) (Subscription, error)
}

type Subscription interface {
	Changes() <-chan struct{}
	Close() error
}

// Publisher matches kafka.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// StatusCache keeps the last committed status per order. A put carrying an older
// version than the cached one is ignored.
type StatusCache interface {
	PutStatus(ctx context.Context, orderID string, status Status, version int64, updatedAt time.Time) error
}

// StockIndex mirrors committed stock levels, e.g. the out-of-stock set. Adjustments
// with a version not newer than the indexed one are ignored.
type StockIndex interface {
	MarkStock(ctx context.Context, adjustments []StockAdjustment) error
}
