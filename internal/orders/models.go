package orders

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PaymentCOD is cash on delivery; every other payment method counts as already paid.
const PaymentCOD = "cod"

type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku,omitempty"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updatedAt"`
	// naik satu setiap kali stok berubah
	StockVersion int64 `json:"stockVersion"`
}

type LineItem struct {
	ProductID string  `json:"id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Status        Status          `json:"status"`
	PaymentMethod string          `json:"paymentMethod"`
	Products      []LineItem      `json:"products"`
	Billing       json.RawMessage `json:"billing,omitempty"`
	Subtotal      float64         `json:"subtotal"`
	Shipping      float64         `json:"shipping"`
	Total         float64         `json:"total"`
	Version       int64           `json:"version"`
	CreatedAt     *time.Time      `json:"createdAt"` // nil untuk data lama tanpa timestamp
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (o Order) Ref() Ref { return Ref{AccountID: o.UserID, OrderID: o.ID} }

// Clone copies the order including its line items.
func (o Order) Clone() Order {
	c := o
	c.Products = append([]LineItem(nil), o.Products...)
	c.Billing = append(json.RawMessage(nil), o.Billing...)
	if o.CreatedAt != nil {
		t := *o.CreatedAt
		c.CreatedAt = &t
	}
	return c
}

// DisplayStatus is the status shown in admin tables. Prepaid orders read as delivered.
// It is presentation only and never feeds reconciliation.
func DisplayStatus(o Order) Status {
	if !strings.EqualFold(strings.TrimSpace(o.PaymentMethod), PaymentCOD) {
		return StatusDelivered
	}
	return ParseStatus(string(o.Status))
}

// Ref identifies an order nested under its owning account.
type Ref struct {
	AccountID string `json:"accountId"`
	OrderID   string `json:"id"`
}

func (r Ref) String() string { return r.AccountID + "/" + r.OrderID }

// NewOrder is the checkout payload. Status is accepted but ignored.
type NewOrder struct {
	Products      []LineItem      `json:"products"`
	Billing       json.RawMessage `json:"billing"`
	PaymentMethod string          `json:"paymentMethod"`
	Subtotal      float64         `json:"subtotal"`
	Shipping      float64         `json:"shipping"`
	Total         float64         `json:"total"`
	Status        string          `json:"status,omitempty"`
}

func (n NewOrder) Validate() error {
	if len(n.Products) == 0 {
		return fmt.Errorf("%w: no products", ErrInvalidOrder)
	}
	for i, it := range n.Products {
		if it.ProductID == "" {
			return fmt.Errorf("%w: product %d has no id", ErrInvalidOrder, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: invalid quantity for product %s", ErrInvalidOrder, it.ProductID)
		}
		if it.Price < 0 {
			return fmt.Errorf("%w: negative price for product %s", ErrInvalidOrder, it.ProductID)
		}
	}
	return nil
}

// FieldUpdate holds direct field writes. Nil fields are left untouched.
type FieldUpdate struct {
	PaymentMethod *string         `json:"paymentMethod,omitempty"`
	Billing       json.RawMessage `json:"billing,omitempty"`
}

func (f FieldUpdate) Empty() bool { return f.PaymentMethod == nil && len(f.Billing) == 0 }

type StockDelta struct {
	ProductID string `json:"productId"`
	Delta     int    `json:"delta"`
}

// StockAdjustment is one committed stock change. Version is the product's stock
// version after the change, so consumers can drop adjustments that arrive late.
type StockAdjustment struct {
	ProductID string `json:"productId"`
	Delta     int    `json:"delta"`
	Stock     int    `json:"stock"`
	Version   int64  `json:"version"`
}

// StockDeltas folds line items into one delta per product, ordered by product id
// so concurrent transactions lock product rows in the same order.
func StockDeltas(items []LineItem, dir StockDirection) []StockDelta {
	if dir == StockUnchanged {
		return nil
	}
	sum := make(map[string]int, len(items))
	for _, it := range items {
		sum[it.ProductID] += dir.Delta(it.Quantity)
	}
	out := make([]StockDelta, 0, len(sum))
	for id, d := range sum {
		out = append(out, StockDelta{ProductID: id, Delta: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// SortNewestFirst orders by creation time descending; orders without a timestamp go last.
func SortNewestFirst(list []Order) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].CreatedAt, list[j].CreatedAt
		switch {
		case a == nil && b == nil:
			return list[i].ID < list[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return list[i].ID < list[j].ID
		default:
			return a.After(*b)
		}
	})
}
