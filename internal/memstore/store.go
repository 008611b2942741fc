// Package memstore keeps orders and products in process memory. It backs tests and
// local runs without Postgres.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	orders   map[orders.Ref]orders.Order
	products map[string]orders.Product
	clamp    bool
	now      func() time.Time
	last     time.Time
}

var _ orders.Store = (*Store)(nil)

type Option func(*Store)

// WithClampAtZero makes stock saturate at 0.
func WithClampAtZero(on bool) Option { return func(s *Store) { s.clamp = on } }

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(opts ...Option) *Store {
	s := &Store{
		orders:   map[orders.Ref]orders.Order{},
		products: map[string]orders.Product{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	s.products[p.ID] = p
}

// PutOrder stores o as is, including a nil CreatedAt.
func (s *Store) PutOrder(o orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Version == 0 {
		o.Version = 1
	}
	s.orders[o.Ref()] = o.Clone()
}

func (s *Store) Product(id string) (orders.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) Stock(id string) int {
	p, _ := s.Product(id)
	return p.Stock
}

// tick returns a timestamp strictly after the previous one.
func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) CreateOrder(_ context.Context, accountID string, in orders.NewOrder) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.tick()
	o := orders.Order{
		ID:            uuid.NewString(),
		UserID:        accountID,
		Status:        orders.StatusPending,
		PaymentMethod: in.PaymentMethod,
		Products:      append([]orders.LineItem(nil), in.Products...),
		Billing:       in.Billing,
		Subtotal:      in.Subtotal,
		Shipping:      in.Shipping,
		Total:         in.Total,
		Version:       1,
		CreatedAt:     &now,
		UpdatedAt:     now,
	}
	s.orders[o.Ref()] = o.Clone()
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, accountID, orderID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrder(accountID, orderID)
}

func (s *Store) getOrder(accountID, orderID string) (orders.Order, error) {
	o, ok := s.orders[orders.Ref{AccountID: accountID, OrderID: orderID}]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s/%s", orders.ErrOrderNotFound, accountID, orderID)
	}
	return o.Clone(), nil
}

func (s *Store) ListAccountOrders(_ context.Context, accountID string) ([]orders.Order, error) {
	return s.list(func(r orders.Ref) bool { return r.AccountID == accountID }), nil
}

func (s *Store) ListAllOrders(_ context.Context) ([]orders.Order, error) {
	return s.list(func(orders.Ref) bool { return true }), nil
}

func (s *Store) list(match func(orders.Ref) bool) []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []orders.Order{}
	for ref, o := range s.orders {
		if match(ref) {
			out = append(out, o.Clone())
		}
	}
	orders.SortNewestFirst(out)
	return out
}

func (s *Store) UpdateOrderFields(_ context.Context, accountID, orderID string, f orders.FieldUpdate) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.getOrder(accountID, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if f.PaymentMethod != nil {
		o.PaymentMethod = *f.PaymentMethod
	}
	if len(f.Billing) > 0 {
		o.Billing = append([]byte(nil), f.Billing...)
	}
	o.Version++
	o.UpdatedAt = s.tick()
	s.orders[o.Ref()] = o
	return o.Clone(), nil
}

func (s *Store) DeleteOrder(_ context.Context, accountID, orderID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.getOrder(accountID, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	delete(s.orders, o.Ref())
	return o, nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) (orders.StockAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return orders.StockAdjustment{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, productID)
	}
	p = s.adjust(p, delta)
	p.UpdatedAt = s.now()
	s.products[productID] = p
	return orders.StockAdjustment{ProductID: productID, Delta: delta, Stock: p.Stock, Version: p.StockVersion}, nil
}

func (s *Store) adjust(p orders.Product, delta int) orders.Product {
	p.Stock += delta
	if s.clamp && p.Stock < 0 {
		p.Stock = 0
	}
	p.StockVersion++
	return p
}

// InTx holds the store lock for the whole unit and applies staged writes only on success.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, products: map[string]orders.Product{}, orders: map[orders.Ref]orders.Order{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, p := range tx.products {
		p.UpdatedAt = s.now()
		s.products[id] = p
	}
	for ref, o := range tx.orders {
		s.orders[ref] = o
	}
	return nil
}

type memTx struct {
	s        *Store
	products map[string]orders.Product
	orders   map[orders.Ref]orders.Order
}

func (t *memTx) GetOrder(_ context.Context, accountID, orderID string) (orders.Order, error) {
	if o, ok := t.orders[orders.Ref{AccountID: accountID, OrderID: orderID}]; ok {
		return o.Clone(), nil
	}
	return t.s.getOrder(accountID, orderID)
}

func (t *memTx) AdjustStock(_ context.Context, deltas []orders.StockDelta) ([]orders.StockAdjustment, error) {
	out := make([]orders.StockAdjustment, 0, len(deltas))
	for _, d := range deltas {
		p, ok := t.products[d.ProductID]
		if !ok {
			if p, ok = t.s.products[d.ProductID]; !ok {
				return nil, fmt.Errorf("%w: %s", orders.ErrProductNotFound, d.ProductID)
			}
		}
		p = t.s.adjust(p, d.Delta)
		t.products[d.ProductID] = p
		out = append(out, orders.StockAdjustment{ProductID: d.ProductID, Delta: d.Delta, Stock: p.Stock, Version: p.StockVersion})
	}
	return out, nil
}

func (t *memTx) WriteStatus(ctx context.Context, accountID, orderID string, expectedVersion int64, status orders.Status, paymentMethod string) (orders.Order, error) {
	o, err := t.GetOrder(ctx, accountID, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if o.Version != expectedVersion {
		return orders.Order{}, fmt.Errorf("%w: %s/%s expected version %d, have %d",
			orders.ErrConcurrentModification, accountID, orderID, expectedVersion, o.Version)
	}
	o.Status = status
	o.PaymentMethod = paymentMethod
	o.Version++
	o.UpdatedAt = t.s.tick()
	t.orders[o.Ref()] = o
	return o.Clone(), nil
}
