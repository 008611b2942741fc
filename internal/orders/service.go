package orders

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Service is the read side plus the non-reconciling writes of the order store.
type Service struct {
	Store       Store
	Notifier    Notifier   // optional
	Events      Publisher  // optional
	Stock       StockIndex // optional
	Log         *zap.Logger
	ServiceName string
}

// CreateOrder appends a new pending order under accountID, whatever status the payload carries.
func (s *Service) CreateOrder(ctx context.Context, accountID string, in NewOrder, traceID string) (Order, error) {
	if accountID == "" {
		return Order{}, fmt.Errorf("%w: missing account", ErrInvalidOrder)
	}
	if err := in.Validate(); err != nil {
		return Order{}, err
	}
	in.Status = string(StatusPending)

	o, err := s.Store.CreateOrder(ctx, accountID, in)
	if err != nil {
		s.Log.Error("create order", zap.String("account_id", accountID), zap.Error(err))
		return Order{}, err
	}

	s.notify(ctx, accountID)
	Emit(s.Events, TopicOrderCreated, NewEnvelope(EventOrderCreated, s.ServiceName, o.ID, traceID, OrderCreatedPayload{
		OrderID:       o.ID,
		UserID:        accountID,
		PaymentMethod: o.PaymentMethod,
		Items:         o.Products,
		Total:         o.Total,
	}))
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, ref Ref) (Order, error) {
	return s.Store.GetOrder(ctx, ref.AccountID, ref.OrderID)
}

// ListAllOrders flattens every account's orders, newest first.
func (s *Service) ListAllOrders(ctx context.Context) ([]Order, error) {
	list, err := s.Store.ListAllOrders(ctx)
	if err != nil {
		s.Log.Error("list all orders", zap.Error(err))
		return nil, err
	}
	SortNewestFirst(list)
	return list, nil
}

func (s *Service) ListAccountOrders(ctx context.Context, accountID string) ([]Order, error) {
	list, err := s.Store.ListAccountOrders(ctx, accountID)
	if err != nil {
		s.Log.Error("list account orders", zap.String("account_id", accountID), zap.Error(err))
		return nil, err
	}
	SortNewestFirst(list)
	return list, nil
}

// UpdateOrderFields writes fields directly. It never touches stock; callers that change
// status go through the reconciliation engine.
func (s *Service) UpdateOrderFields(ctx context.Context, ref Ref, f FieldUpdate) (Order, error) {
	if f.Empty() {
		return s.Store.GetOrder(ctx, ref.AccountID, ref.OrderID)
	}
	o, err := s.Store.UpdateOrderFields(ctx, ref.AccountID, ref.OrderID, f)
	if err != nil {
		s.Log.Error("update order fields", zap.Stringer("order", ref), zap.Error(err))
		return Order{}, err
	}
	s.notify(ctx, ref.AccountID)
	return o, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	ps, err := s.Store.ListProducts(ctx)
	if err != nil {
		s.Log.Error("list products", zap.Error(err))
		return nil, err
	}
	return ps, nil
}

// AdjustStock applies a manual stock correction with the store's atomic increment.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int) (StockAdjustment, error) {
	adj, err := s.Store.AdjustStock(ctx, productID, delta)
	if err != nil {
		s.Log.Error("adjust stock", zap.String("product_id", productID), zap.Int("delta", delta), zap.Error(err))
		return StockAdjustment{}, err
	}
	if s.Stock != nil {
		if err := s.Stock.MarkStock(ctx, []StockAdjustment{adj}); err != nil {
			s.Log.Warn("index stock", zap.String("product_id", productID), zap.Error(err))
		}
	}
	Emit(s.Events, TopicStockAdjusted, NewEnvelope(EventStockAdjusted, s.ServiceName, productID, "", StockAdjustedPayload{
		Direction:   directionOf(delta),
		Adjustments: []StockAdjustment{adj},
	}))
	return adj, nil
}

func directionOf(delta int) StockDirection {
	switch {
	case delta < 0:
		return StockDecrement
	case delta > 0:
		return StockIncrement
	default:
		return StockUnchanged
	}
}

// SubscribeOrders pushes accountID's orders to onChange now and after every change.
// When the store or the notifier is unreachable onChange gets an empty list and the
// error is logged. The returned func stops the subscription and waits for it to exit.
func (s *Service) SubscribeOrders(ctx context.Context, accountID string, onChange func([]Order)) (unsubscribe func()) {
	if s.Notifier == nil {
		s.push(ctx, accountID, onChange)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := s.Notifier.Subscribe(ctx, accountID)
	if err != nil {
		cancel()
		s.Log.Error("subscribe orders", zap.String("account_id", accountID), zap.Error(err))
		onChange([]Order{})
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Close()

		s.push(ctx, accountID, onChange)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Changes():
				if !ok {
					return
				}
				s.push(ctx, accountID, onChange)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *Service) push(ctx context.Context, accountID string, onChange func([]Order)) {
	list, err := s.Store.ListAccountOrders(ctx, accountID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.Log.Error("subscription refresh", zap.String("account_id", accountID), zap.Error(err))
		onChange([]Order{})
		return
	}
	SortNewestFirst(list)
	onChange(list)
}

func (s *Service) notify(ctx context.Context, accountID string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, accountID); err != nil {
		s.Log.Warn("notify order change", zap.String("account_id", accountID), zap.Error(err))
	}
}
