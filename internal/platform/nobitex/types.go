package nobitex

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// flexFloat decodes numbers sent either as JSON numbers or strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("nobitex: parse number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexID decodes ids sent either as JSON numbers or strings.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	*id = flexID(strings.Trim(string(b), `"`))
	return nil
}

// OrderBookDTO is the order book payload shared by the REST endpoints and
// WebSocket publications.
type OrderBookDTO struct {
	LastUpdate     int64             `json:"lastUpdate"`
	LastTradePrice flexFloat         `json:"lastTradePrice"`
	Asks           []json.RawMessage `json:"asks"`
	Bids           []json.RawMessage `json:"bids"`
}

type orderBookResponse struct {
	envelope
	OrderBookDTO
}

// ToSnapshot normalises the payload into a snapshot captured at now.
func (d OrderBookDTO) ToSnapshot(symbol string, source domain.BookSource, now time.Time) domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		Symbol:         symbol,
		Asks:           NormalizeLevels(d.Asks, true),
		Bids:           NormalizeLevels(d.Bids, false),
		LastTradePrice: float64(d.LastTradePrice),
		CapturedAt:     now,
		Source:         source,
	}
	if snap.LastTradePrice <= 0 {
		snap.LastTradePrice = snap.Mid()
	}
	return snap
}

// NormalizeLevels converts raw rows into (price, quantity) pairs. Rows may
// be ["price","qty"] arrays or {"price","amount"|"quantity"|"size"}
// objects. Unparseable or non-positive rows are dropped. Asks come back
// ascending, bids descending.
func NormalizeLevels(rows []json.RawMessage, ascending bool) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(rows))
	for _, row := range rows {
		lvl, ok := parseRow(row)
		if !ok || lvl.Price <= 0 || lvl.Quantity < 0 {
			continue
		}
		levels = append(levels, lvl)
	}
	sort.SliceStable(levels, func(i, j int) bool {
		if ascending {
			return levels[i].Price < levels[j].Price
		}
		return levels[i].Price > levels[j].Price
	})
	return levels
}

func parseRow(row json.RawMessage) (domain.PriceLevel, bool) {
	var pair []flexFloat
	if err := json.Unmarshal(row, &pair); err == nil {
		if len(pair) < 2 {
			return domain.PriceLevel{}, false
		}
		return domain.PriceLevel{Price: float64(pair[0]), Quantity: float64(pair[1])}, true
	}

	var obj struct {
		Price    flexFloat  `json:"price"`
		Amount   *flexFloat `json:"amount"`
		Quantity *flexFloat `json:"quantity"`
		Size     *flexFloat `json:"size"`
	}
	if err := json.Unmarshal(row, &obj); err != nil {
		return domain.PriceLevel{}, false
	}
	lvl := domain.PriceLevel{Price: float64(obj.Price)}
	switch {
	case obj.Amount != nil:
		lvl.Quantity = float64(*obj.Amount)
	case obj.Quantity != nil:
		lvl.Quantity = float64(*obj.Quantity)
	case obj.Size != nil:
		lvl.Quantity = float64(*obj.Size)
	default:
		return domain.PriceLevel{}, false
	}
	return lvl, true
}

// EncodeLevels renders levels in the exchange's ["price","qty"] row form.
func EncodeLevels(levels []domain.PriceLevel) []json.RawMessage {
	rows := make([]json.RawMessage, 0, len(levels))
	for _, l := range levels {
		row, _ := json.Marshal([]string{
			strconv.FormatFloat(l.Price, 'f', -1, 64),
			strconv.FormatFloat(l.Quantity, 'f', -1, 64),
		})
		rows = append(rows, row)
	}
	return rows
}

// MarketStat is one entry of the market-stats response.
type MarketStat struct {
	IsClosed  bool      `json:"isClosed"`
	BestSell  flexFloat `json:"bestSell"`
	BestBuy   flexFloat `json:"bestBuy"`
	Latest    flexFloat `json:"latest"`
	DayHigh   flexFloat `json:"dayHigh"`
	DayLow    flexFloat `json:"dayLow"`
	VolumeSrc flexFloat `json:"volumeSrc"`
}

type marketStatsResponse struct {
	envelope
	Stats map[string]MarketStat `json:"stats"`
}

// ToSnapshot builds a single-level book from best bid/ask.
func (m MarketStat) ToSnapshot(symbol string, now time.Time) domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		Symbol:         symbol,
		LastTradePrice: float64(m.Latest),
		CapturedAt:     now,
		Source:         domain.SourceREST,
	}
	if m.BestSell > 0 {
		snap.Asks = []domain.PriceLevel{{Price: float64(m.BestSell)}}
	}
	if m.BestBuy > 0 {
		snap.Bids = []domain.PriceLevel{{Price: float64(m.BestBuy)}}
	}
	if snap.LastTradePrice <= 0 {
		snap.LastTradePrice = snap.Mid()
	}
	return snap
}

// OrderDTO is an order as returned by the order endpoints.
type OrderDTO struct {
	ID            flexID    `json:"id"`
	ClientOrderID string    `json:"clientOrderId"`
	Type          string    `json:"type"`
	Execution     string    `json:"execution"`
	SrcCurrency   string    `json:"srcCurrency"`
	DstCurrency   string    `json:"dstCurrency"`
	Price         flexFloat `json:"price"`
	Amount        flexFloat `json:"amount"`
	MatchedAmount flexFloat `json:"matchedAmount"`
	AveragePrice  flexFloat `json:"averagePrice"`
	Fee           flexFloat `json:"fee"`
	Status        string    `json:"status"`
	CreatedAt     string    `json:"created_at"`
}

// ToUpdate maps the exchange order into the bot's progress view.
func (o OrderDTO) ToUpdate(now time.Time) domain.OrderUpdate {
	u := domain.OrderUpdate{
		ExchangeOrderID: string(o.ID),
		FilledQuantity:  float64(o.MatchedAmount),
		AvgFillPrice:    float64(o.AveragePrice),
		Fee:             float64(o.Fee),
		UpdatedAt:       now,
	}
	switch strings.ToLower(o.Status) {
	case "done":
		u.Status = domain.OrderStatusFilled
	case "canceled", "cancelled":
		u.Status = domain.OrderStatusCancelled
	case "failed", "rejected":
		u.Status = domain.OrderStatusFailed
	default:
		if o.MatchedAmount > 0 {
			u.Status = domain.OrderStatusPartiallyFilled
		} else {
			u.Status = domain.OrderStatusPlaced
		}
	}
	return u
}

type orderResponse struct {
	envelope
	Order OrderDTO `json:"order"`
}

type ordersResponse struct {
	envelope
	Orders []OrderDTO `json:"orders"`
}

// Profile is the authenticated account's summary.
type Profile struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Level     int    `json:"level"`
}

type profileResponse struct {
	envelope
	Profile Profile `json:"profile"`
}

// Wallet is one currency wallet.
type Wallet struct {
	ID             flexID    `json:"id"`
	Currency       string    `json:"currency"`
	Balance        flexFloat `json:"balance"`
	BlockedBalance flexFloat `json:"blockedBalance"`
	ActiveBalance  flexFloat `json:"activeBalance"`
	RialBalance    flexFloat `json:"rialBalance"`
}

type walletsResponse struct {
	envelope
	Wallets []Wallet `json:"wallets"`
}

type balanceResponse struct {
	envelope
	Balance flexFloat `json:"balance"`
}

// Position is a margin position.
type Position struct {
	ID          flexID    `json:"id"`
	Side        string    `json:"side"`
	SrcCurrency string    `json:"srcCurrency"`
	DstCurrency string    `json:"dstCurrency"`
	Status      string    `json:"status"`
	Liability   flexFloat `json:"liability"`
	Collateral  flexFloat `json:"collateral"`
	EntryPrice  flexFloat `json:"entryPrice"`
	MarkPrice   flexFloat `json:"markPrice"`
	PNL         flexFloat `json:"unrealizedPNL"`
}

type positionsResponse struct {
	envelope
	Positions []Position `json:"positions"`
}

type positionResponse struct {
	envelope
	Position Position `json:"position"`
}

// WithdrawRequest asks for a withdrawal that must later be confirmed with
// an OTP.
type WithdrawRequest struct {
	Currency    string
	Amount      float64
	Address     string
	Tag         string
	Network     string
	Explanation string
}

// Withdrawal is the exchange's record of a withdrawal request.
type Withdrawal struct {
	ID        flexID    `json:"id"`
	Currency  string    `json:"currency"`
	Amount    flexFloat `json:"amount"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	CreatedAt string    `json:"createdAt"`
}

type withdrawResponse struct {
	envelope
	Withdraw Withdrawal `json:"withdraw"`
}

// Options carries exchange-wide trading rules.
type Options struct {
	Features map[string]json.RawMessage `json:"features"`
	Nobitex  struct {
		AmountPrecisions map[string]flexFloat `json:"amountPrecisions"`
		PricePrecisions  map[string]flexFloat `json:"pricePrecisions"`
		MinOrders        map[string]flexFloat `json:"minOrders"`
	} `json:"nobitex"`
}

// MarketRules derives tick, quantity precision and minimum notional for a
// symbol from the options payload.
func (o Options) MarketRules(symbol string) (domain.Market, bool) {
	tick, ok := o.Nobitex.PricePrecisions[symbol]
	if !ok || tick <= 0 {
		return domain.Market{}, false
	}
	m := domain.Market{Symbol: symbol, Tick: float64(tick)}
	if step, ok := o.Nobitex.AmountPrecisions[symbol]; ok && step > 0 {
		m.QuantityPrecision = decimalsOf(float64(step))
	}
	if _, quote, err := domain.SplitSymbol(symbol); err == nil {
		m.MinNotional = float64(o.Nobitex.MinOrders[quote])
	}
	return m, true
}

// decimalsOf returns the decimal places of a step such as 0.000001.
func decimalsOf(step float64) int32 {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

type optionsResponse struct {
	envelope
	Options
}

type wsTokenResponse struct {
	envelope
	Token string `json:"token"`
}
