package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxRetries      = 3
	defaultBulkConcurrency = 8
)

// Engine applies order status transitions together with their stock consequence.
// Every call runs as one store transaction: the previous status is read inside it,
// stock moves at most once per real transition, and the status write is conditioned
// on the version that was read.
type Engine struct {
	Store    orders.Store
	Notifier orders.Notifier    // optional
	Events   orders.Publisher   // optional
	Cache    orders.StatusCache // optional
	Stock    orders.StockIndex  // optional
	Log      *zap.Logger

	ServiceName string
	// MaxRetries bounds conflict retries for operations that read the previous status themselves.
	MaxRetries      int
	BulkConcurrency int
}

// Outcome describes one applied (or skipped) transition.
type Outcome struct {
	Ref         orders.Ref               `json:"ref"`
	Previous    orders.Status            `json:"previousStatus"`
	Next        orders.Status            `json:"newStatus"`
	Direction   orders.StockDirection    `json:"direction"`
	Adjustments []orders.StockAdjustment `json:"adjustments,omitempty"`
	Order       orders.Order             `json:"order"`
	Written     bool                     `json:"written"`
}

type change struct {
	next orders.Status
	// expectPrev, kalau diisi, harus sama dengan status tersimpan
	expectPrev *orders.Status
	payment    *string
}

// SetDelivered moves the order to delivered (checked) or back to pending.
// Entering delivered decrements stock by every line item's quantity, leaving it increments.
// Repeating the same call is a no-op. Version conflicts are retried with a fresh read.
func (e *Engine) SetDelivered(ctx context.Context, ref orders.Ref, checked bool) (Outcome, error) {
	next := orders.StatusPending
	if checked {
		next = orders.StatusDelivered
	}

	var (
		out Outcome
		err error
	)
	for attempt := 0; attempt <= e.maxRetries(); attempt++ {
		out, err = e.apply(ctx, ref, change{next: next})
		if !IsConflict(err) {
			break
		}
		e.Log.Info("delivered toggle conflict, retrying", zap.Stringer("order", ref), zap.Int("attempt", attempt+1))
	}
	if err != nil {
		e.Log.Error("set delivered", zap.Stringer("order", ref), zap.Bool("checked", checked), zap.Error(err))
	}
	return out, err
}

// SetStatus moves the order from previous to next and, when paymentMethod is non-empty,
// updates the payment method in the same write. If the stored status is no longer previous
// the call fails with orders.ErrConcurrentModification and nothing is written; the caller
// should re-read and try again.
func (e *Engine) SetStatus(ctx context.Context, ref orders.Ref, next, previous orders.Status, paymentMethod string) (Outcome, error) {
	prev := orders.ParseStatus(string(previous))
	c := change{next: orders.ParseStatus(string(next)), expectPrev: &prev}
	if paymentMethod != "" {
		c.payment = &paymentMethod
	}
	out, err := e.apply(ctx, ref, c)
	if err != nil {
		e.Log.Error("set status", zap.Stringer("order", ref), zap.String("next", string(c.next)),
			zap.String("previous", string(prev)), zap.Error(err))
	}
	return out, err
}

// BulkResult is the per-order result of BulkSetDelivered.
type BulkResult struct {
	Outcome
	Err error `json:"-"`
}

// BulkSetDelivered applies SetDelivered to every ref concurrently. Each order is its own
// unit: some may succeed while others fail. The returned error joins every failure.
func (e *Engine) BulkSetDelivered(ctx context.Context, refs []orders.Ref, checked bool) ([]BulkResult, error) {
	results := make([]BulkResult, len(refs))

	var g errgroup.Group
	g.SetLimit(e.bulkConcurrency())
	for i, ref := range refs {
		g.Go(func() error {
			out, err := e.SetDelivered(ctx, ref, checked)
			out.Ref = ref
			results[i] = BulkResult{Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Ref, r.Err))
		}
	}
	if len(errs) > 0 {
		e.Log.Warn("bulk delivered toggle partially failed", zap.Int("orders", len(refs)), zap.Int("failed", len(errs)))
	}
	return results, errors.Join(errs...)
}

// Delete removes the order. Stock already taken by a delivered order stays taken.
func (e *Engine) Delete(ctx context.Context, ref orders.Ref, traceID string) (orders.Order, error) {
	o, err := e.Store.DeleteOrder(ctx, ref.AccountID, ref.OrderID)
	if err != nil {
		e.Log.Error("delete order", zap.Stringer("order", ref), zap.Error(err))
		return orders.Order{}, err
	}
	if orders.ParseStatus(string(o.Status)) == orders.StatusDelivered {
		e.Log.Warn("deleted delivered order, stock not restored", zap.Stringer("order", ref))
	}

	e.notify(ctx, ref.AccountID)
	orders.Emit(e.Events, orders.TopicOrderDeleted, orders.NewEnvelope(orders.EventOrderDeleted, e.ServiceName, ref.OrderID, traceID,
		orders.OrderDeletedPayload{OrderID: ref.OrderID, UserID: ref.AccountID, Status: o.Status}))
	return o, nil
}

func (e *Engine) apply(ctx context.Context, ref orders.Ref, c change) (Outcome, error) {
	var out Outcome
	err := e.Store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.GetOrder(ctx, ref.AccountID, ref.OrderID)
		if err != nil {
			return err
		}
		prev := orders.ParseStatus(string(o.Status))
		if c.expectPrev != nil && *c.expectPrev != prev {
			return fmt.Errorf("%w: %s is %s, caller expected %s", orders.ErrConcurrentModification, ref, prev, *c.expectPrev)
		}

		payment := o.PaymentMethod
		if c.payment != nil {
			payment = *c.payment
		}
		dir := orders.Transition(prev, c.next)
		out = Outcome{Ref: ref, Previous: prev, Next: c.next, Direction: dir, Order: o}

		// status sama & payment tidak berubah -> tidak ada yang ditulis
		if prev == c.next && payment == o.PaymentMethod && orders.Status(o.Status) == c.next {
			return nil
		}

		if dir != orders.StockUnchanged {
			adj, err := tx.AdjustStock(ctx, orders.StockDeltas(o.Products, dir))
			if err != nil {
				return err
			}
			out.Adjustments = adj
		}

		updated, err := tx.WriteStatus(ctx, ref.AccountID, ref.OrderID, o.Version, c.next, payment)
		if err != nil {
			return err
		}
		updated.Products = o.Products
		out.Order = updated
		out.Written = true
		return nil
	})
	if err != nil {
		return Outcome{Ref: ref}, wrapFailure(ref, err)
	}
	if out.Written {
		e.afterCommit(ctx, out)
	}
	return out, nil
}

// afterCommit runs side effects that must not undo a committed transition; failures are logged.
func (e *Engine) afterCommit(ctx context.Context, out Outcome) {
	if e.Cache != nil {
		if err := e.Cache.PutStatus(ctx, out.Ref.OrderID, out.Next, out.Order.Version, out.Order.UpdatedAt); err != nil {
			e.Log.Warn("cache order status", zap.Stringer("order", out.Ref), zap.Error(err))
		}
	}
	// index stok langsung, tanpa menunggu consumer; versi stok mencegah event lama menimpa
	if e.Stock != nil && len(out.Adjustments) > 0 {
		if err := e.Stock.MarkStock(ctx, out.Adjustments); err != nil {
			e.Log.Warn("index stock", zap.Stringer("order", out.Ref), zap.Error(err))
		}
	}
	e.notify(ctx, out.Ref.AccountID)

	orders.Emit(e.Events, orders.TopicOrderStatusChanged, orders.NewEnvelope(orders.EventOrderStatusChanged, e.ServiceName, out.Ref.OrderID, "",
		orders.OrderStatusChangedPayload{
			OrderID:        out.Ref.OrderID,
			UserID:         out.Ref.AccountID,
			PreviousStatus: out.Previous,
			NewStatus:      out.Next,
			PaymentMethod:  out.Order.PaymentMethod,
			Direction:      out.Direction,
			Version:        out.Order.Version,
		}))
	if len(out.Adjustments) > 0 {
		orders.Emit(e.Events, orders.TopicStockAdjusted, orders.NewEnvelope(orders.EventStockAdjusted, e.ServiceName, out.Ref.OrderID, "",
			orders.StockAdjustedPayload{OrderID: out.Ref.OrderID, Direction: out.Direction, Adjustments: out.Adjustments}))
	}

	e.Log.Info("order status reconciled",
		zap.Stringer("order", out.Ref),
		zap.String("previous", string(out.Previous)),
		zap.String("next", string(out.Next)),
		zap.Stringer("stock", out.Direction),
		zap.Int("products", len(out.Adjustments)),
	)
}

func (e *Engine) notify(ctx context.Context, accountID string) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, accountID); err != nil {
		e.Log.Warn("notify order change", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (e *Engine) maxRetries() int {
	if e.MaxRetries < 0 {
		return 0
	}
	if e.MaxRetries == 0 {
		return defaultMaxRetries
	}
	return e.MaxRetries
}

func (e *Engine) bulkConcurrency() int {
	if e.BulkConcurrency <= 0 {
		return defaultBulkConcurrency
	}
	return e.BulkConcurrency
}
