// Package client talks to the order API admin surface over HTTP.
package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-resty/resty/v2"
)

// Order is an order as the API returns it, with its display status.
type Order struct {
	orders.Order
	DisplayStatus orders.Status `json:"displayStatus"`
}

type Outcome struct {
	Order          Order                    `json:"order"`
	PreviousStatus orders.Status            `json:"previousStatus"`
	NewStatus      orders.Status            `json:"newStatus"`
	Direction      orders.StockDirection    `json:"direction"`
	Adjustments    []orders.StockAdjustment `json:"adjustments,omitempty"`
}

type BulkItem struct {
	AccountID      string                `json:"accountId"`
	OrderID        string                `json:"id"`
	PreviousStatus orders.Status         `json:"previousStatus,omitempty"`
	NewStatus      orders.Status         `json:"newStatus,omitempty"`
	Direction      orders.StockDirection `json:"direction"`
	Error          string                `json:"error,omitempty"`
}

type BulkResult struct {
	Results []BulkItem `json:"results"`
	Failed  int        `json:"failed"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	OrderID    string `json:"order_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("api %d: %s (order %s)", e.StatusCode, e.Message, e.OrderID)
	}
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	return &Client{http: resty.New().SetBaseURL(baseURL).SetTimeout(20 * time.Second)}
}

func (c *Client) ListAllOrders() ([]Order, error) {
	var out []Order
	return out, c.do(http.MethodGet, "/admin/orders", nil, &out)
}

func (c *Client) ListAccountOrders(accountID string) ([]Order, error) {
	var out []Order
	return out, c.do(http.MethodGet, "/accounts/"+accountID+"/orders", nil, &out)
}

func (c *Client) SetStatus(ref orders.Ref, next, previous orders.Status, paymentMethod string) (Outcome, error) {
	var out Outcome
	body := map[string]string{"status": string(next), "previousStatus": string(previous)}
	if paymentMethod != "" {
		body["paymentMethod"] = paymentMethod
	}
	return out, c.do(http.MethodPatch, "/admin/accounts/"+ref.AccountID+"/orders/"+ref.OrderID, body, &out)
}

func (c *Client) SetDelivered(ref orders.Ref, checked bool) (Outcome, error) {
	var out Outcome
	return out, c.do(http.MethodPut, "/admin/accounts/"+ref.AccountID+"/orders/"+ref.OrderID+"/delivered",
		map[string]bool{"checked": checked}, &out)
}

// BulkSetDelivered returns the per-order results even when some orders failed.
func (c *Client) BulkSetDelivered(refs []orders.Ref, checked bool) (BulkResult, error) {
	var out BulkResult
	body := struct {
		Checked bool         `json:"checked"`
		Orders  []orders.Ref `json:"orders"`
	}{checked, refs}
	if err := c.do(http.MethodPost, "/admin/orders/delivered", body, &out); err != nil {
		return out, err
	}
	if out.Failed > 0 {
		return out, fmt.Errorf("%d of %d orders failed", out.Failed, len(out.Results))
	}
	return out, nil
}

func (c *Client) Delete(ref orders.Ref) error {
	return c.do(http.MethodDelete, "/admin/accounts/"+ref.AccountID+"/orders/"+ref.OrderID, nil, nil)
}

func (c *Client) UpdatePaymentMethod(ref orders.Ref, paymentMethod string) (Order, error) {
	var out Order
	return out, c.do(http.MethodPatch, "/admin/accounts/"+ref.AccountID+"/orders/"+ref.OrderID+"/fields",
		orders.FieldUpdate{PaymentMethod: &paymentMethod}, &out)
}

// AdjustStock returns the product's stock after the change.
func (c *Client) AdjustStock(productID string, delta int) (int, error) {
	var out struct {
		Stock int `json:"stock"`
	}
	err := c.do(http.MethodPost, "/admin/products/"+productID+"/stock", map[string]int{"delta": delta}, &out)
	return out.Stock, err
}

func (c *Client) Products() ([]orders.Product, error) {
	var out []orders.Product
	return out, c.do(http.MethodGet, "/products", nil, &out)
}

func (c *Client) OutOfStock() ([]string, error) {
	var out []string
	return out, c.do(http.MethodGet, "/products/out-of-stock", nil, &out)
}

func (c *Client) do(method, path string, body, out any) error {
	req := c.http.R()
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNoContent:
		return nil
	case code >= 200 && code < 300:
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Body(), out)
	default:
		apiErr := &APIError{StatusCode: code}
		if err := json.Unmarshal(resp.Body(), apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(code)
		}
		return apiErr
	}
}
