// Package memory is an in-process store backend. Every Update works on a
// private copy of the data and publishes it only when the callback succeeds.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"storefront-be/internal/cart"
	"storefront-be/internal/order"
	"storefront-be/internal/payment"
	"storefront-be/internal/product"
	"storefront-be/internal/store"
)

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

var _ store.UnitOfWork = (*Store)(nil)

func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) View(ctx context.Context, fn func(store.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.repos(s.state))
}

func (s *Store) Update(ctx context.Context, fn func(store.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(s.repos(work)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) repos(st *state) store.Repos {
	return store.Repos{
		Products: &productRepo{st: st, now: s.now},
		Ledger:   &ledger{st: st, now: s.now},
		Carts:    &cartRepo{st: st, now: s.now},
		Orders:   &orderRepo{st: st, now: s.now},
		Payments: &paymentRepo{st: st, now: s.now},
	}
}

type callbackRecord struct {
	id        int64
	cb        payment.Callback
	processed bool
	failure   string
}

type state struct {
	products   map[int64]product.Product
	variations map[int64][]product.Variation
	lines      map[int64]cart.Line
	orders     map[int64]order.Order
	numbers    map[string]int64
	orderLines map[int64][]order.Line
	payments   map[string]payment.Payment
	callbacks  map[string]callbackRecord

	lastProductID   int64
	lastVariationID int64
	lastLineID      int64
	lastOrderID     int64
	lastOrdinal     int64
	lastOrderLineID int64
	lastPaymentID   int64
	lastCallbackID  int64
}

func newState() *state {
	return &state{
		products:   map[int64]product.Product{},
		variations: map[int64][]product.Variation{},
		lines:      map[int64]cart.Line{},
		orders:     map[int64]order.Order{},
		numbers:    map[string]int64{},
		orderLines: map[int64][]order.Line{},
		payments:   map[string]payment.Payment{},
		callbacks:  map[string]callbackRecord{},
	}
}

// clone copies the maps. Stored values are never mutated in place, so a
// shallow copy of each map is enough to isolate a transaction.
func (s *state) clone() *state {
	c := *s
	c.products = maps.Clone(s.products)
	c.variations = maps.Clone(s.variations)
	c.lines = maps.Clone(s.lines)
	c.orders = maps.Clone(s.orders)
	c.numbers = maps.Clone(s.numbers)
	c.orderLines = maps.Clone(s.orderLines)
	c.payments = maps.Clone(s.payments)
	c.callbacks = maps.Clone(s.callbacks)
	return &c
}
