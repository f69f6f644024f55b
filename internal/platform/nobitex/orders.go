package nobitex

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// CreateOrder places a limit order and returns the exchange order id.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if !req.Side.Valid() || req.Price <= 0 || req.Quantity <= 0 {
		return "", fmt.Errorf("nobitex: create order: %w", domain.ErrInvalidOrder)
	}
	src, dst, err := domain.SplitSymbol(req.Symbol)
	if err != nil {
		return "", err
	}

	body := map[string]string{
		"type":        string(req.Side),
		"execution":   "limit",
		"srcCurrency": src,
		"dstCurrency": dst,
		"amount":      strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"price":       strconv.FormatFloat(req.Price, 'f', -1, 64),
	}
	if req.ClientOrderID != "" {
		body["clientOrderId"] = req.ClientOrderID
	}

	var resp orderResponse
	if err := c.request(ctx, call{route: "order_add", method: http.MethodPost, path: "/market/orders/add", body: body, auth: true}, &resp); err != nil {
		return "", fmt.Errorf("nobitex: create %s order %s@%v: %w", req.Side, req.Symbol, req.Price, err)
	}
	if resp.Order.ID == "" {
		return "", fmt.Errorf("nobitex: create order: response carried no order id")
	}
	return string(resp.Order.ID), nil
}

// CancelOrder cancels a single order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]string{"order": orderID, "status": "canceled"}
	if err := c.request(ctx, call{route: "order_cancel", method: http.MethodPost, path: "/market/orders/update-status", body: body, auth: true}, nil); err != nil {
		return fmt.Errorf("nobitex: cancel order %s: %w", orderID, err)
	}
	return nil
}

// OrdersStatus fetches the current state of several orders in one call.
func (c *Client) OrdersStatus(ctx context.Context, orderIDs []string) ([]domain.OrderUpdate, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	body := map[string][]string{"ids": orderIDs}
	var resp ordersResponse
	if err := c.request(ctx, call{route: "orders_status", method: http.MethodPost, path: "/market/orders/status", body: body, auth: true}, &resp); err != nil {
		return nil, fmt.Errorf("nobitex: orders status: %w", err)
	}
	now := time.Now()
	updates := make([]domain.OrderUpdate, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		updates = append(updates, o.ToUpdate(now))
	}
	return updates, nil
}

// OrderByClientID fetches the order submitted under clientOrderID. The
// executor uses it to adopt an order whose create call was retried after
// the exchange had already accepted it.
func (c *Client) OrderByClientID(ctx context.Context, clientOrderID string) (domain.OrderUpdate, error) {
	body := map[string]string{"clientOrderId": clientOrderID}
	var resp orderResponse
	if err := c.request(ctx, call{route: "orders_status", method: http.MethodPost, path: "/market/orders/status", body: body, auth: true}, &resp); err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("nobitex: order by client id %s: %w", clientOrderID, err)
	}
	if resp.Order.ID == "" {
		return domain.OrderUpdate{}, fmt.Errorf("nobitex: order by client id %s: %w", clientOrderID, domain.ErrNotFound)
	}
	return resp.Order.ToUpdate(time.Now()), nil
}
