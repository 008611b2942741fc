package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type recorder struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (r *recorder) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, kafkago.Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Topic)
	}
	return out
}

type memCache struct {
	mu      sync.Mutex
	status  map[string]orders.Status
	version map[string]int64
}

func (c *memCache) PutStatus(_ context.Context, orderID string, status orders.Status, version int64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		c.status = map[string]orders.Status{}
		c.version = map[string]int64{}
	}
	if v, ok := c.version[orderID]; ok && version < v {
		return nil
	}
	c.status[orderID] = status
	c.version[orderID] = version
	return nil
}

type memIndex struct {
	mu   sync.Mutex
	last map[string]orders.StockAdjustment
}

func (x *memIndex) MarkStock(_ context.Context, adjustments []orders.StockAdjustment) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.last == nil {
		x.last = map[string]orders.StockAdjustment{}
	}
	for _, adj := range adjustments {
		if cur, ok := x.last[adj.ProductID]; ok && adj.Version <= cur.Version {
			continue
		}
		x.last[adj.ProductID] = adj
	}
	return nil
}

type fixture struct {
	engine *Engine
	store  *memstore.Store
	events *recorder
	cache  *memCache
	index  *memIndex
}

func newFixture(t *testing.T, opts ...memstore.Option) *fixture {
	t.Helper()
	store := memstore.New(opts...)
	f := &fixture{store: store, events: &recorder{}, cache: &memCache{}, index: &memIndex{}}
	f.engine = &Engine{
		Store:       store,
		Notifier:    memstore.NewNotifier(),
		Events:      f.events,
		Cache:       f.cache,
		Stock:       f.index,
		Log:         zap.NewNop(),
		ServiceName: "test",
	}
	return f
}

func (f *fixture) product(id string, stock int) {
	f.store.PutProduct(orders.Product{ID: id, Name: id, Stock: stock})
}

func (f *fixture) order(acct, id string, status orders.Status, items ...orders.LineItem) orders.Ref {
	now := time.Now()
	f.store.PutOrder(orders.Order{ID: id, UserID: acct, Status: status, PaymentMethod: "cod", Products: items, CreatedAt: &now})
	return orders.Ref{AccountID: acct, OrderID: id}
}

func (f *fixture) status(t *testing.T, ref orders.Ref) orders.Status {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), ref.AccountID, ref.OrderID)
	require.NoError(t, err)
	return o.Status
}

func item(productID string, qty int) orders.LineItem {
	return orders.LineItem{ProductID: productID, Quantity: qty, Price: 1}
}

func TestSetDeliveredRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	o1 := f.order("u1", "O1", orders.StatusPending, item("P1", 3))

	out, err := f.engine.SetDelivered(ctx, o1, true)
	require.NoError(t, err)
	assert.True(t, out.Written)
	assert.Equal(t, orders.StockDecrement, out.Direction)
	assert.Equal(t, []orders.StockAdjustment{{ProductID: "P1", Delta: -3, Stock: 7, Version: 1}}, out.Adjustments)
	assert.Equal(t, 7, f.store.Stock("P1"))
	assert.Equal(t, orders.StatusDelivered, f.status(t, o1))

	out, err = f.engine.SetDelivered(ctx, o1, false)
	require.NoError(t, err)
	assert.Equal(t, orders.StockIncrement, out.Direction)
	assert.Equal(t, 10, f.store.Stock("P1"))
	assert.Equal(t, orders.StatusPending, f.status(t, o1))
	assert.Equal(t, orders.StatusPending, f.cache.status["O1"])
}

func TestSetDeliveredTwiceAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	o1 := f.order("u1", "O1", orders.StatusPending, item("P1", 3))

	_, err := f.engine.SetDelivered(ctx, o1, true)
	require.NoError(t, err)
	out, err := f.engine.SetDelivered(ctx, o1, true)
	require.NoError(t, err)

	assert.False(t, out.Written)
	assert.Equal(t, orders.StockUnchanged, out.Direction)
	assert.Equal(t, 7, f.store.Stock("P1"))
}

func TestToggleTwiceNetsLikeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	o1 := f.order("u1", "O1", orders.StatusPending, item("P1", 2))

	for _, checked := range []bool{true, false, true, false, true} {
		_, err := f.engine.SetDelivered(ctx, o1, checked)
		require.NoError(t, err)
	}
	assert.Equal(t, 8, f.store.Stock("P1"))
}

func TestSetStatusTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("pending to canceled leaves stock", func(t *testing.T) {
		f := newFixture(t)
		f.product("P1", 10)
		o2 := f.order("u1", "O2", orders.StatusPending, item("P1", 4))

		out, err := f.engine.SetStatus(ctx, o2, orders.StatusCanceled, orders.StatusPending, "")
		require.NoError(t, err)
		assert.Equal(t, orders.StockUnchanged, out.Direction)
		assert.Empty(t, out.Adjustments)
		assert.Equal(t, 10, f.store.Stock("P1"))
		assert.Equal(t, orders.StatusCanceled, f.status(t, o2))
	})

	t.Run("delivered to canceled restores every line item", func(t *testing.T) {
		f := newFixture(t)
		f.product("P1", 10)
		f.product("P2", 0)
		o3 := f.order("u1", "O3", orders.StatusDelivered, item("P1", 4), item("P2", 1), item("P1", 1))

		out, err := f.engine.SetStatus(ctx, o3, orders.StatusCanceled, orders.StatusDelivered, "")
		require.NoError(t, err)
		assert.Equal(t, orders.StockIncrement, out.Direction)
		assert.Equal(t, 15, f.store.Stock("P1"))
		assert.Equal(t, 1, f.store.Stock("P2"))
		assert.Equal(t, orders.StatusCanceled, f.status(t, o3))
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		for _, s := range []orders.Status{orders.StatusPending, orders.StatusProgress, orders.StatusDelivered, orders.StatusCanceled} {
			f := newFixture(t)
			f.product("P1", 10)
			ref := f.order("u1", "O", s, item("P1", 2))

			out, err := f.engine.SetStatus(ctx, ref, s, s, "")
			require.NoError(t, err, s)
			assert.False(t, out.Written, s)
			assert.Equal(t, 10, f.store.Stock("P1"), s)
			assert.Empty(t, f.events.topics(), s)
		}
	})

	t.Run("payment method change writes without stock", func(t *testing.T) {
		f := newFixture(t)
		f.product("P1", 10)
		ref := f.order("u1", "O", orders.StatusPending, item("P1", 2))

		out, err := f.engine.SetStatus(ctx, ref, orders.StatusPending, orders.StatusPending, "card")
		require.NoError(t, err)
		assert.True(t, out.Written)
		assert.Equal(t, "card", out.Order.PaymentMethod)
		assert.Equal(t, orders.StatusDelivered, orders.DisplayStatus(out.Order))
		assert.Equal(t, 10, f.store.Stock("P1"))
	})

	t.Run("unknown stored status counts as pending", func(t *testing.T) {
		f := newFixture(t)
		f.product("P1", 10)
		ref := f.order("u1", "O", "shipped", item("P1", 2))

		out, err := f.engine.SetDelivered(ctx, ref, true)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusPending, out.Previous)
		assert.Equal(t, 8, f.store.Stock("P1"))
	})
}

func TestSetStatusStalePrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	ref := f.order("u1", "O1", orders.StatusDelivered, item("P1", 3))

	_, err := f.engine.SetStatus(ctx, ref, orders.StatusCanceled, orders.StatusPending, "")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 10, f.store.Stock("P1"))
	assert.Equal(t, orders.StatusDelivered, f.status(t, ref))
	assert.Empty(t, f.events.topics())
}

func TestConcurrentDeliveriesShareStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P9", 5)
	o4 := f.order("u1", "O4", orders.StatusPending, item("P9", 2))
	o5 := f.order("u2", "O5", orders.StatusPending, item("P9", 2))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, ref := range []orders.Ref{o4, o5} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.SetDelivered(ctx, ref, true)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, f.store.Stock("P9"))
}

func TestConcurrentTogglesOnSameOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 100)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 1))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.SetDelivered(ctx, ref, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 99, f.store.Stock("P1"))
}

func TestMissingProductRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 3), item("GONE", 1))

	_, err := f.engine.SetDelivered(ctx, ref, true)
	require.Error(t, err)

	var rf *ReconciliationFailedError
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, "O1", rf.Ref.OrderID)
	assert.True(t, errors.Is(err, orders.ErrProductNotFound))

	assert.Equal(t, 10, f.store.Stock("P1"))
	assert.Equal(t, orders.StatusPending, f.status(t, ref))
	assert.Empty(t, f.events.topics())
}

func TestMissingOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SetDelivered(context.Background(), orders.Ref{AccountID: "u1", OrderID: "nope"}, true)
	assert.True(t, errors.Is(err, orders.ErrOrderNotFound))

	var rf *ReconciliationFailedError
	assert.False(t, errors.As(err, &rf))
}

func TestClampAtZero(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	f.product("P1", 1)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 3))
	_, err := f.engine.SetDelivered(ctx, ref, true)
	require.NoError(t, err)
	assert.Equal(t, -2, f.store.Stock("P1"), "oversold by default")

	f = newFixture(t, memstore.WithClampAtZero(true))
	f.product("P1", 1)
	ref = f.order("u1", "O1", orders.StatusPending, item("P1", 3))
	_, err = f.engine.SetDelivered(ctx, ref, true)
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.Stock("P1"))
}

func TestBulkSetDeliveredRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	f.product("P2", 10)
	f.product("P3", 10)
	refs := []orders.Ref{
		f.order("u1", "O1", orders.StatusPending, item("P1", 1), item("P2", 2)),
		f.order("u2", "O2", orders.StatusProgress, item("P2", 3)),
		f.order("u2", "O3", orders.StatusCanceled, item("P3", 4), item("P1", 1)),
	}

	results, err := f.engine.BulkSetDelivered(ctx, refs, true)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 8, f.store.Stock("P1"))
	assert.Equal(t, 5, f.store.Stock("P2"))
	assert.Equal(t, 6, f.store.Stock("P3"))

	_, err = f.engine.BulkSetDelivered(ctx, refs, false)
	require.NoError(t, err)
	assert.Equal(t, 10, f.store.Stock("P1"))
	assert.Equal(t, 10, f.store.Stock("P2"))
	assert.Equal(t, 10, f.store.Stock("P3"))
}

func TestBulkSetDeliveredPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	ok := f.order("u1", "O1", orders.StatusPending, item("P1", 2))
	missing := orders.Ref{AccountID: "u1", OrderID: "nope"}

	results, err := f.engine.BulkSetDelivered(ctx, []orders.Ref{ok, missing}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, orders.ErrOrderNotFound))

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, ok, results[0].Ref)
	assert.Error(t, results[1].Err)
	assert.Equal(t, missing, results[1].Ref)
	assert.Equal(t, 8, f.store.Stock("P1"))
}

// conflictOnce fails the first status write with a version conflict.
type conflictOnce struct {
	*memstore.Store
	mu    sync.Mutex
	fired bool
}

func (c *conflictOnce) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return c.Store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return fn(ctx, &conflictTx{Tx: tx, c: c})
	})
}

type conflictTx struct {
	orders.Tx
	c *conflictOnce
}

func (t *conflictTx) WriteStatus(ctx context.Context, accountID, orderID string, expectedVersion int64, status orders.Status, paymentMethod string) (orders.Order, error) {
	t.c.mu.Lock()
	fire := !t.c.fired
	t.c.fired = true
	t.c.mu.Unlock()
	if fire {
		return orders.Order{}, orders.ErrConcurrentModification
	}
	return t.Tx.WriteStatus(ctx, accountID, orderID, expectedVersion, status, paymentMethod)
}

func TestSetDeliveredRetriesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 3))
	f.engine.Store = &conflictOnce{Store: f.store}

	out, err := f.engine.SetDelivered(ctx, ref, true)
	require.NoError(t, err)
	assert.True(t, out.Written)
	assert.Equal(t, 7, f.store.Stock("P1"), "the failed attempt left no stock behind")
}

func TestSetDeliveredNoRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 3))
	f.engine.Store = &conflictOnce{Store: f.store}
	f.engine.MaxRetries = -1

	_, err := f.engine.SetDelivered(ctx, ref, true)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 10, f.store.Stock("P1"))
}

func TestDeleteKeepsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 3))

	_, err := f.engine.SetDelivered(ctx, ref, true)
	require.NoError(t, err)

	o, err := f.engine.Delete(ctx, ref, "trace")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, o.Status)
	assert.Equal(t, 7, f.store.Stock("P1"))

	_, err = f.store.GetOrder(ctx, ref.AccountID, ref.OrderID)
	assert.True(t, errors.Is(err, orders.ErrOrderNotFound))

	_, err = f.engine.Delete(ctx, ref, "trace")
	assert.True(t, errors.Is(err, orders.ErrOrderNotFound))
}

func TestEventsAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 3))

	_, err := f.engine.SetDelivered(ctx, ref, true)
	require.NoError(t, err)
	assert.Equal(t, []string{orders.TopicOrderStatusChanged, orders.TopicStockAdjusted}, f.events.topics())

	env, err := kafkax.Decode[orders.Envelope](f.events.msgs[1])
	require.NoError(t, err)
	assert.Equal(t, orders.EventStockAdjusted, env.EventType)
	p, err := kafkax.DecodePayload[orders.StockAdjustedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.StockDecrement, p.Direction)
	assert.Equal(t, []orders.StockAdjustment{{ProductID: "P1", Delta: -3, Stock: 7, Version: 1}}, p.Adjustments)

	_, err = f.engine.Delete(ctx, ref, "")
	require.NoError(t, err)
	assert.Equal(t, orders.TopicOrderDeleted, f.events.topics()[2])
}

func TestStockIndexedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 3)
	f.product("P2", 5)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 3), item("P2", 1))

	_, err := f.engine.SetDelivered(ctx, ref, true)
	require.NoError(t, err)
	assert.Equal(t, orders.StockAdjustment{ProductID: "P1", Delta: -3, Stock: 0, Version: 1}, f.index.last["P1"])
	assert.Equal(t, 4, f.index.last["P2"].Stock)

	_, err = f.engine.SetDelivered(ctx, ref, false)
	require.NoError(t, err)
	assert.Equal(t, orders.StockAdjustment{ProductID: "P1", Delta: 3, Stock: 3, Version: 2}, f.index.last["P1"])

	// transisi tanpa efek stok tidak menyentuh index
	_, err = f.engine.SetStatus(ctx, ref, orders.StatusProgress, orders.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.index.last["P1"].Version)
}

func TestCacheCarriesOrderVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("P1", 10)
	ref := f.order("u1", "O1", orders.StatusPending, item("P1", 1))

	out, err := f.engine.SetDelivered(ctx, ref, true)
	require.NoError(t, err)
	assert.Equal(t, out.Order.Version, f.cache.version["O1"])

	// tulisan cache yang terlambat dari versi lama diabaikan
	require.NoError(t, f.cache.PutStatus(ctx, "O1", orders.StatusPending, out.Order.Version-1, time.Now()))
	assert.Equal(t, orders.StatusDelivered, f.cache.status["O1"])
}
