package nobitex

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// Profile returns the authenticated account. The engine uses it as the
// connectivity and credential preflight.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var resp profileResponse
	if err := c.request(ctx, call{route: "profile", method: http.MethodPost, path: "/users/profile", auth: true}, &resp); err != nil {
		return Profile{}, fmt.Errorf("nobitex: profile: %w", err)
	}
	return resp.Profile, nil
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Profile(ctx)
	return err
}

// Wallets lists every wallet of the account.
func (c *Client) Wallets(ctx context.Context) ([]Wallet, error) {
	var resp walletsResponse
	if err := c.request(ctx, call{route: "wallets", method: http.MethodPost, path: "/users/wallets/list", auth: true}, &resp); err != nil {
		return nil, fmt.Errorf("nobitex: wallets: %w", err)
	}
	return resp.Wallets, nil
}

// Balance returns the balance of one currency.
func (c *Client) Balance(ctx context.Context, currency string) (float64, error) {
	var resp balanceResponse
	body := map[string]string{"currency": currency}
	if err := c.request(ctx, call{route: "balance", method: http.MethodPost, path: "/users/wallets/balance", body: body, auth: true}, &resp); err != nil {
		return 0, fmt.Errorf("nobitex: balance %s: %w", currency, err)
	}
	return float64(resp.Balance), nil
}

// Positions lists open margin positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var resp positionsResponse
	if err := c.request(ctx, call{route: "positions", method: http.MethodGet, path: "/positions/list", auth: true}, &resp); err != nil {
		return nil, fmt.Errorf("nobitex: positions: %w", err)
	}
	return resp.Positions, nil
}

// PositionStatus returns one position.
func (c *Client) PositionStatus(ctx context.Context, id string) (Position, error) {
	var resp positionResponse
	if err := c.request(ctx, call{route: "position_status", method: http.MethodGet, path: "/positions/" + id + "/status", auth: true}, &resp); err != nil {
		return Position{}, fmt.Errorf("nobitex: position %s: %w", id, err)
	}
	return resp.Position, nil
}

// ClosePosition closes amount of a position at a limit price.
func (c *Client) ClosePosition(ctx context.Context, id string, amount, price float64) (Position, error) {
	body := map[string]string{
		"amount": strconv.FormatFloat(amount, 'f', -1, 64),
		"price":  strconv.FormatFloat(price, 'f', -1, 64),
	}
	var resp positionResponse
	if err := c.request(ctx, call{route: "position_close", method: http.MethodPost, path: "/positions/" + id + "/close", body: body, auth: true}, &resp); err != nil {
		return Position{}, fmt.Errorf("nobitex: close position %s: %w", id, err)
	}
	return resp.Position, nil
}

// Withdraw requests a withdrawal. It must be confirmed with ConfirmWithdraw.
func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (Withdrawal, error) {
	body := map[string]string{
		"currency": req.Currency,
		"amount":   strconv.FormatFloat(req.Amount, 'f', -1, 64),
		"address":  req.Address,
	}
	if req.Tag != "" {
		body["tag"] = req.Tag
	}
	if req.Network != "" {
		body["network"] = req.Network
	}
	if req.Explanation != "" {
		body["explanations"] = req.Explanation
	}
	var resp withdrawResponse
	if err := c.request(ctx, call{route: "withdraw", method: http.MethodPost, path: "/users/wallets/withdraw", body: body, auth: true}, &resp); err != nil {
		return Withdrawal{}, fmt.Errorf("nobitex: withdraw %s: %w", req.Currency, err)
	}
	return resp.Withdraw, nil
}

// ConfirmWithdraw confirms a pending withdrawal with the account OTP.
func (c *Client) ConfirmWithdraw(ctx context.Context, withdrawID, otp string) (Withdrawal, error) {
	body := map[string]string{"withdraw": withdrawID, "otp": otp}
	var resp withdrawResponse
	if err := c.request(ctx, call{route: "withdraw_confirm", method: http.MethodPost, path: "/users/wallets/withdraw-confirm", body: body, auth: true}, &resp); err != nil {
		return Withdrawal{}, fmt.Errorf("nobitex: confirm withdraw %s: %w", withdrawID, err)
	}
	return resp.Withdraw, nil
}

// WSToken issues a short-lived token for private WebSocket channels.
func (c *Client) WSToken(ctx context.Context) (string, error) {
	var resp wsTokenResponse
	if err := c.request(ctx, call{route: "ws_token", method: http.MethodGet, path: "/auth/ws/token/", auth: true}, &resp); err != nil {
		return "", fmt.Errorf("nobitex: ws token: %w", err)
	}
	return resp.Token, nil
}
