package httpx

import (
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/reconcile"
)

// OrderView adds the display-only status to an order.
type OrderView struct {
	orders.Order
	DisplayStatus orders.Status `json:"displayStatus"`
}

func toViews(list []orders.Order) []OrderView {
	out := make([]OrderView, 0, len(list))
	for _, o := range list {
		out = append(out, OrderView{Order: o, DisplayStatus: orders.DisplayStatus(o)})
	}
	return out
}

type OutcomeView struct {
	Order          OrderView                `json:"order"`
	PreviousStatus orders.Status            `json:"previousStatus"`
	NewStatus      orders.Status            `json:"newStatus"`
	Direction      orders.StockDirection    `json:"direction"`
	Adjustments    []orders.StockAdjustment `json:"adjustments,omitempty"`
}

func toOutcomeView(out reconcile.Outcome) OutcomeView {
	return OutcomeView{
		Order:          OrderView{Order: out.Order, DisplayStatus: orders.DisplayStatus(out.Order)},
		PreviousStatus: out.Previous,
		NewStatus:      out.Next,
		Direction:      out.Direction,
		Adjustments:    out.Adjustments,
	}
}

type BulkItemView struct {
	AccountID      string                `json:"accountId"`
	OrderID        string                `json:"id"`
	PreviousStatus orders.Status         `json:"previousStatus,omitempty"`
	NewStatus      orders.Status         `json:"newStatus,omitempty"`
	Direction      orders.StockDirection `json:"direction"`
	Error          string                `json:"error,omitempty"`
}

type BulkResp struct {
	Results []BulkItemView `json:"results"`
	Failed  int            `json:"failed"`
}

func toBulkResp(results []reconcile.BulkResult) BulkResp {
	resp := BulkResp{Results: make([]BulkItemView, 0, len(results))}
	for _, r := range results {
		v := BulkItemView{AccountID: r.Ref.AccountID, OrderID: r.Ref.OrderID}
		if r.Err != nil {
			v.Error = r.Err.Error()
			resp.Failed++
		} else {
			v.PreviousStatus, v.NewStatus, v.Direction = r.Previous, r.Next, r.Direction
		}
		resp.Results = append(resp.Results, v)
	}
	return resp
}
