package executor

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// Registry is the local record of every order placed in the current
// session. Only the Executor mutates it; readers get copies.
type Registry struct {
	mu         sync.RWMutex
	orders     map[string]*domain.TradingOrder // by local ID
	byExchange map[string]string               // exchange ID -> local ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		orders:     make(map[string]*domain.TradingOrder),
		byExchange: make(map[string]string),
	}
}

// Get returns the order with local id.
func (r *Registry) Get(id string) (domain.TradingOrder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.TradingOrder{}, false
	}
	return *o, true
}

// ByExchangeID returns the order with the given exchange id.
func (r *Registry) ByExchangeID(exchangeID string) (domain.TradingOrder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byExchange[exchangeID]
	if !ok {
		return domain.TradingOrder{}, false
	}
	return *r.orders[id], true
}

// All returns every order, oldest first.
func (r *Registry) All() []domain.TradingOrder {
	return r.filter(func(domain.TradingOrder) bool { return true })
}

// Resting returns the orders currently live on the book, oldest first.
func (r *Registry) Resting() []domain.TradingOrder {
	return r.filter(func(o domain.TradingOrder) bool { return o.Status.Resting() })
}

// Filled returns fully filled orders, oldest first.
func (r *Registry) Filled() []domain.TradingOrder {
	return r.filter(func(o domain.TradingOrder) bool { return o.Status == domain.OrderStatusFilled })
}

// Existing returns the resting orders in the shape the reconciler diffs.
func (r *Registry) Existing() []domain.ExistingOrder {
	resting := r.Resting()
	out := make([]domain.ExistingOrder, 0, len(resting))
	for _, o := range resting {
		out = append(out, domain.ExistingOrder{
			ExchangeOrderID: o.ExchangeOrderID,
			Side:            o.Side,
			Price:           o.Price,
			Quantity:        o.Quantity,
		})
	}
	return out
}

// Len returns the number of tracked orders.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

func (r *Registry) filter(keep func(domain.TradingOrder) bool) []domain.TradingOrder {
	r.mu.RLock()
	out := make([]domain.TradingOrder, 0, len(r.orders))
	for _, o := range r.orders {
		if keep(*o) {
			out = append(out, *o)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) put(o domain.TradingOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = &o
	if o.ExchangeOrderID != "" {
		r.byExchange[o.ExchangeOrderID] = o.ID
	}
}

// update applies fn to the stored order under the write lock.
func (r *Registry) update(id string, fn func(*domain.TradingOrder) error) (domain.TradingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.TradingOrder{}, domain.ErrNotFound
	}
	cp := *o
	if err := fn(&cp); err != nil {
		return *o, err
	}
	*o = cp
	return cp, nil
}

func (r *Registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = make(map[string]*domain.TradingOrder)
	r.byExchange = make(map[string]string)
}
