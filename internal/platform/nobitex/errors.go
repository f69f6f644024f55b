package nobitex

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// envelope is the status/code/message wrapper every response carries.
type envelope struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e envelope) failed() bool {
	return strings.EqualFold(e.Status, "failed")
}

func (e envelope) asError() *domain.ExchangeError {
	return &domain.ExchangeError{Kind: kindForCode(e.Code), Code: e.Code, Message: e.Message}
}

// decodeEnvelope checks the envelope status and, on success, decodes the
// payload into out. out may be nil.
func decodeEnvelope(raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("nobitex: decode envelope: %w", err)
	}
	if env.failed() {
		return env.asError()
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("nobitex: decode payload: %w", err)
	}
	return nil
}

// codeKinds maps exchange error codes onto domain sentinels.
var codeKinds = map[string]error{
	"InsufficientBalance":      domain.ErrInsufficientBalance,
	"SmallOrder":               domain.ErrBelowMinimum,
	"MinimumOrderValue":        domain.ErrBelowMinimum,
	"InvalidPrice":             domain.ErrInvalidPrice,
	"BadPrice":                 domain.ErrInvalidPrice,
	"PriceConditionFailed":     domain.ErrInvalidPrice,
	"InvalidAmount":            domain.ErrInvalidAmount,
	"BadAmount":                domain.ErrInvalidAmount,
	"OverValueOrder":           domain.ErrInvalidAmount,
	"DuplicateOrder":           domain.ErrDuplicateOrder,
	"DuplicateClientOrderId":   domain.ErrDuplicateOrder,
	"MarketClosed":             domain.ErrMarketClosed,
	"TradingUnavailable":       domain.ErrMarketClosed,
	"MarketTemporaryClosed":    domain.ErrMarketClosed,
	"InvalidMarketPair":        domain.ErrInvalidSymbol,
	"UserLevelRestriction":     domain.ErrKYCRequired,
	"KYCLevelInsufficient":     domain.ErrKYCRequired,
	"UnverifiedEmail":          domain.ErrKYCRequired,
	"InvalidAddress":           domain.ErrInvalidAddress,
	"InvalidTag":               domain.ErrInvalidTag,
	"InvalidMemo":              domain.ErrInvalidTag,
	"InvalidOTP":               domain.ErrInvalidOTP,
	"Invalid2FA":               domain.ErrInvalidOTP,
	"WithdrawUnavailable":      domain.ErrWithdrawUnavailable,
	"WithdrawAmountLimitation": domain.ErrWithdrawUnavailable,
	"WithdrawDisabled":         domain.ErrWithdrawUnavailable,
}

func kindForCode(code string) error {
	if kind, ok := codeKinds[code]; ok {
		return kind
	}
	return domain.ErrExchangeRejected
}

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"otp":           {},
	"token":         {},
	"password":      {},
	"authorization": {},
	"apikey":        {},
	"secret":        {},
	"x-totp":        {},
	"totp":          {},
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	_, ok := sensitiveKeys[k]
	return ok
}

// redactBody renders a request body for logging with credential fields
// masked at any depth.
func redactBody(body any) string {
	if body == nil {
		return ""
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "<unencodable>"
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return "<unencodable>"
	}
	out, _ := json.Marshal(redactValue(v))
	return string(out)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if isSensitive(k) {
				t[k] = redacted
				continue
			}
			t[k] = redactValue(child)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactValue(t[i])
		}
		return t
	default:
		return v
	}
}

func redactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	clean := make(url.Values, len(q))
	for k, vs := range q {
		if isSensitive(k) {
			clean[k] = []string{redacted}
			continue
		}
		clean[k] = vs
	}
	return clean.Encode()
}
