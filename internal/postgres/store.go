package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements orders.Store on Postgres. Orders are keyed by (user_id, id),
// which keeps the per-account nesting while one indexed table serves the admin listing.
type Store struct {
	DB *pgxpool.Pool
	// ClampAtZero makes stock increments saturate at 0 instead of going negative.
	ClampAtZero bool
}

var _ orders.Store = (*Store)(nil)

// pgxpool.Pool dan pgx.Tx sama-sama memenuhi interface ini.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `user_id, id, status, payment_method, billing, subtotal, shipping, total, version, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o       orders.Order
		status  string
		billing []byte
	)
	err := row.Scan(&o.UserID, &o.ID, &status, &o.PaymentMethod, &billing,
		&o.Subtotal, &o.Shipping, &o.Total, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	o.Billing = billing
	return o, nil
}

func (s *Store) CreateOrder(ctx context.Context, accountID string, in orders.NewOrder) (orders.Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return orders.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	billing := string(in.Billing)
	if billing == "" || billing == "null" {
		billing = "{}"
	}

	// status selalu pending, created_at dari server (clock_timestamp supaya monoton per write)
	o, err := scanOrder(tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, id, status, payment_method, billing, subtotal, shipping, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, clock_timestamp(), clock_timestamp())
		RETURNING `+orderColumns,
		accountID, uuid.NewString(), string(orders.StatusPending), in.PaymentMethod, billing,
		in.Subtotal, in.Shipping, in.Total,
	))
	if err != nil {
		return orders.Order{}, fmt.Errorf("insert order: %w", err)
	}

	items := in.Products
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"order_items"},
		[]string{"user_id", "order_id", "position", "product_id", "quantity", "price"},
		pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
			return []any{accountID, o.ID, i, items[i].ProductID, items[i].Quantity, items[i].Price}, nil
		}),
	)
	if err != nil {
		return orders.Order{}, fmt.Errorf("insert order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return orders.Order{}, err
	}
	o.Products = append([]orders.LineItem(nil), items...)
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, accountID, orderID string) (orders.Order, error) {
	return getOrder(ctx, s.DB, accountID, orderID, false)
}

func getOrder(ctx context.Context, q querier, accountID, orderID string, forUpdate bool) (orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, accountID, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("%w: %s/%s", orders.ErrOrderNotFound, accountID, orderID)
	}
	if err != nil {
		return orders.Order{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT product_id, quantity, price FROM order_items
		WHERE user_id = $1 AND order_id = $2 ORDER BY position`, accountID, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.LineItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Price); err != nil {
			return orders.Order{}, err
		}
		o.Products = append(o.Products, it)
	}
	return o, rows.Err()
}

func (s *Store) ListAccountOrders(ctx context.Context, accountID string) ([]orders.Order, error) {
	return listOrders(ctx, s.DB, ` WHERE user_id = $1`, accountID)
}

// ListAllOrders reads the flat orders table once instead of fanning out per account.
func (s *Store) ListAllOrders(ctx context.Context) ([]orders.Order, error) {
	return listOrders(ctx, s.DB, ``)
}

func listOrders(ctx context.Context, q querier, where string, args ...any) ([]orders.Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders`+where+` ORDER BY created_at DESC NULLS LAST, id`, args...)
	if err != nil {
		return nil, err
	}
	out := []orders.Order{}
	index := map[orders.Ref]int{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[o.Ref()] = len(out)
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT user_id, order_id, product_id, quantity, price FROM order_items`+where+
		` ORDER BY user_id, order_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ref orders.Ref
			it  orders.LineItem
		)
		if err := rows.Scan(&ref.AccountID, &ref.OrderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		// item dari order yang dibuat setelah query pertama diabaikan
		if i, ok := index[ref]; ok {
			out[i].Products = append(out[i].Products, it)
		}
	}
	return out, rows.Err()
}

func (s *Store) UpdateOrderFields(ctx context.Context, accountID, orderID string, f orders.FieldUpdate) (orders.Order, error) {
	var billing any
	if len(f.Billing) > 0 {
		billing = string(f.Billing)
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders
		SET payment_method = COALESCE($3, payment_method),
		    billing = COALESCE($4::jsonb, billing),
		    version = version + 1,
		    updated_at = clock_timestamp()
		WHERE user_id = $1 AND id = $2`,
		accountID, orderID, f.PaymentMethod, billing)
	if err != nil {
		return orders.Order{}, err
	}
	if ct.RowsAffected() == 0 {
		return orders.Order{}, fmt.Errorf("%w: %s/%s", orders.ErrOrderNotFound, accountID, orderID)
	}
	return s.GetOrder(ctx, accountID, orderID)
}

// DeleteOrder removes the order and its items. Stock is left as it is.
func (s *Store) DeleteOrder(ctx context.Context, accountID, orderID string) (orders.Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return orders.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := getOrder(ctx, tx, accountID, orderID, true)
	if err != nil {
		return orders.Order{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE user_id = $1 AND id = $2`, accountID, orderID); err != nil {
		return orders.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, COALESCE(sku, ''), name, stock, stock_version, price, updated_at
	                               FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Product{}
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.StockVersion, &p.Price, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) (orders.StockAdjustment, error) {
	return scanAdjustment(s.DB.QueryRow(ctx, s.adjustSQL(), productID, delta), orders.StockDelta{ProductID: productID, Delta: delta})
}

// Increment native di sisi DB, bukan read-modify-write: update paralel ke produk yang sama tidak hilang.
// stock_version ikut naik di statement yang sama, jadi urutannya sama dengan urutan commit per produk.
const (
	adjustStockSQL = `UPDATE products SET stock = stock + $2, stock_version = stock_version + 1, updated_at = now()
	                  WHERE id = $1 RETURNING stock, stock_version`
	adjustStockClampSQL = `UPDATE products SET stock = GREATEST(stock + $2, 0), stock_version = stock_version + 1, updated_at = now()
	                       WHERE id = $1 RETURNING stock, stock_version`
)

func scanAdjustment(row pgx.Row, d orders.StockDelta) (orders.StockAdjustment, error) {
	adj := orders.StockAdjustment{ProductID: d.ProductID, Delta: d.Delta}
	if err := row.Scan(&adj.Stock, &adj.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.StockAdjustment{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, d.ProductID)
		}
		return orders.StockAdjustment{}, fmt.Errorf("adjust stock %s: %w", d.ProductID, err)
	}
	return adj, nil
}

func (s *Store) adjustSQL() string {
	if s.ClampAtZero {
		return adjustStockClampSQL
	}
	return adjustStockSQL
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txStore{tx: tx, adjustSQL: s.adjustSQL()}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	tx        pgx.Tx
	adjustSQL string
}

func (t *txStore) GetOrder(ctx context.Context, accountID, orderID string) (orders.Order, error) {
	return getOrder(ctx, t.tx, accountID, orderID, false)
}

// AdjustStock mengirim semua delta dalam satu batch; gagal satu, gagal semua (tx di-rollback).
func (t *txStore) AdjustStock(ctx context.Context, deltas []orders.StockDelta) ([]orders.StockAdjustment, error) {
	if len(deltas) == 0 {
		return nil, nil
	}
	b := &pgx.Batch{}
	for _, d := range deltas {
		b.Queue(t.adjustSQL, d.ProductID, d.Delta)
	}
	br := t.tx.SendBatch(ctx, b)
	defer br.Close()

	out := make([]orders.StockAdjustment, 0, len(deltas))
	for _, d := range deltas {
		adj, err := scanAdjustment(br.QueryRow(), d)
		if err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, nil
}

func (t *txStore) WriteStatus(ctx context.Context, accountID, orderID string, expectedVersion int64, status orders.Status, paymentMethod string) (orders.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $4, payment_method = $5, version = version + 1, updated_at = clock_timestamp()
		WHERE user_id = $1 AND id = $2 AND version = $3
		RETURNING `+orderColumns,
		accountID, orderID, expectedVersion, string(status), paymentMethod))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("%w: %s/%s expected version %d", orders.ErrConcurrentModification, accountID, orderID, expectedVersion)
	}
	return o, err
}
