package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"storefront-be/internal/cart"
	"storefront-be/internal/inventory"
	"storefront-be/internal/order"
	"storefront-be/internal/payment"
	"storefront-be/internal/product"
)

type productRepo struct {
	st  *state
	now func() time.Time
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	p, ok := r.st.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	return &p, nil
}

func (r *productRepo) Create(ctx context.Context, p *product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.st.lastProductID++
	p.ID = r.st.lastProductID
	p.CreatedAt = r.now()
	p.UpdatedAt = p.CreatedAt
	r.st.products[p.ID] = *p
	return nil
}

func (r *productRepo) Variations(ctx context.Context, productID int64) ([]product.Variation, error) {
	var out []product.Variation
	for _, v := range r.st.variations[productID] {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *productRepo) CreateVariation(ctx context.Context, v *product.Variation) error {
	if v.Category == "" || v.Value == "" {
		return product.ErrInvalidVariation
	}
	if _, ok := r.st.products[v.ProductID]; !ok {
		return product.ErrProductNotFound
	}
	r.st.lastVariationID++
	v.ID = r.st.lastVariationID
	r.st.variations[v.ProductID] = append(slices.Clip(r.st.variations[v.ProductID]), *v)
	return nil
}

type ledger struct {
	st  *state
	now func() time.Time
}

func (l *ledger) Reserve(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return inventory.ErrInvalidQuantity
	}
	p, ok := l.st.products[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	if p.Stock < quantity {
		return fmt.Errorf("%w: product %d", inventory.ErrInsufficientStock, productID)
	}
	p.Stock -= quantity
	p.UpdatedAt = l.now()
	l.st.products[productID] = p
	return nil
}

func (l *ledger) Available(ctx context.Context, productID int64) (int, error) {
	p, ok := l.st.products[productID]
	if !ok {
		return 0, inventory.ErrProductNotFound
	}
	return p.Stock, nil
}

func (l *ledger) Restock(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return inventory.ErrInvalidQuantity
	}
	p, ok := l.st.products[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	p.Stock += quantity
	p.UpdatedAt = l.now()
	l.st.products[productID] = p
	return nil
}

type cartRepo struct {
	st  *state
	now func() time.Time
}

func (r *cartRepo) Lines(ctx context.Context, ref cart.Ref) ([]cart.Line, error) {
	var out []cart.Line
	for _, l := range r.st.lines {
		if l.Ref == ref {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *cartRepo) GetLine(ctx context.Context, ref cart.Ref, lineID int64) (*cart.Line, error) {
	l, ok := r.st.lines[lineID]
	if !ok || l.Ref != ref {
		return nil, cart.ErrCartItemNotFound
	}
	return &l, nil
}

func (r *cartRepo) Upsert(ctx context.Context, line *cart.Line) error {
	key := line.Variations.Key()
	for id, l := range r.st.lines {
		if l.Ref == line.Ref && l.ProductID == line.ProductID && l.Variations.Key() == key {
			l.Quantity += line.Quantity
			l.UpdatedAt = r.now()
			r.st.lines[id] = l
			*line = l
			return nil
		}
	}

	r.st.lastLineID++
	line.ID = r.st.lastLineID
	line.CreatedAt = r.now()
	line.UpdatedAt = line.CreatedAt
	line.Variations = cart.ParseVariationKey(key)
	r.st.lines[line.ID] = *line
	return nil
}

func (r *cartRepo) Decrement(ctx context.Context, ref cart.Ref, lineID int64) (bool, error) {
	l, ok := r.st.lines[lineID]
	if !ok || l.Ref != ref {
		return false, cart.ErrCartItemNotFound
	}
	if l.Quantity > 1 {
		l.Quantity--
		l.UpdatedAt = r.now()
		r.st.lines[lineID] = l
		return false, nil
	}
	delete(r.st.lines, lineID)
	return true, nil
}

func (r *cartRepo) Delete(ctx context.Context, ref cart.Ref, lineID int64) error {
	l, ok := r.st.lines[lineID]
	if !ok || l.Ref != ref {
		return cart.ErrCartItemNotFound
	}
	delete(r.st.lines, lineID)
	return nil
}

func (r *cartRepo) Clear(ctx context.Context, ref cart.Ref) (int64, error) {
	var n int64
	for id, l := range r.st.lines {
		if l.Ref == ref {
			delete(r.st.lines, id)
			n++
		}
	}
	return n, nil
}

type orderRepo struct {
	st  *state
	now func() time.Time
}

func (r *orderRepo) NextOrdinal(ctx context.Context) (int64, error) {
	r.st.lastOrdinal++
	return r.st.lastOrdinal, nil
}

func (r *orderRepo) Create(ctx context.Context, o *order.Order) error {
	if _, taken := r.st.numbers[o.Number]; taken {
		return fmt.Errorf("order number %s already exists", o.Number)
	}
	r.st.lastOrderID++
	o.ID = r.st.lastOrderID
	o.CreatedAt = r.now()
	o.UpdatedAt = o.CreatedAt

	stored := *o
	stored.Items = cart.NewSnapshot(o.CartRef, o.CreatedAt, o.Items).Items()
	r.st.orders[o.ID] = stored
	r.st.numbers[o.Number] = o.ID
	return nil
}

func (r *orderRepo) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	id, ok := r.st.numbers[number]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o := r.st.orders[id]
	o.Items = cart.NewSnapshot(o.CartRef, o.CreatedAt, o.Items).Items()
	return &o, nil
}

// LockByNumber needs no extra locking: writers are already serialized.
func (r *orderRepo) LockByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.GetByNumber(ctx, number)
}

func (r *orderRepo) UpdateStatus(ctx context.Context, id int64, from, to order.Status) error {
	if !order.CanTransition(from, to) {
		return order.ErrInvalidTransition
	}
	o, ok := r.st.orders[id]
	if !ok || o.Status != from {
		return order.ErrStatusConflict
	}
	o.Status = to
	o.IsOrdered = to == order.StatusPaid
	o.UpdatedAt = r.now()
	r.st.orders[id] = o
	return nil
}

func (r *orderRepo) PlacedByCart(ctx context.Context, ref cart.Ref) ([]order.Order, error) {
	var out []order.Order
	for _, o := range r.st.orders {
		if o.CartRef == ref && o.Status == order.StatusPlaced {
			o.Items = nil
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *orderRepo) InsertLines(ctx context.Context, lines []order.Line) error {
	for i := range lines {
		l := &lines[i]
		if _, ok := r.st.orders[l.OrderID]; !ok {
			return order.ErrOrderNotFound
		}
		r.st.lastOrderLineID++
		l.ID = r.st.lastOrderLineID
		l.CreatedAt = r.now()

		stored := *l
		stored.Variations = slices.Clone(l.Variations)
		r.st.orderLines[l.OrderID] = append(slices.Clip(r.st.orderLines[l.OrderID]), stored)
	}
	return nil
}

func (r *orderRepo) Lines(ctx context.Context, orderID int64) ([]order.Line, error) {
	stored := r.st.orderLines[orderID]
	out := make([]order.Line, len(stored))
	for i, l := range stored {
		l.Variations = slices.Clone(l.Variations)
		out[i] = l
	}
	return out, nil
}

type paymentRepo struct {
	st  *state
	now func() time.Time
}

func (r *paymentRepo) Create(ctx context.Context, p *payment.Payment) error {
	if _, ok := r.st.payments[p.TransactionID]; ok {
		return payment.ErrDuplicateTransaction
	}
	r.st.lastPaymentID++
	p.ID = r.st.lastPaymentID
	p.CreatedAt = r.now()

	stored := *p
	if p.OrderID != nil {
		id := *p.OrderID
		stored.OrderID = &id
	}
	r.st.payments[p.TransactionID] = stored
	return nil
}

func (r *paymentRepo) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	p, ok := r.st.payments[transactionID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	if p.OrderID != nil {
		id := *p.OrderID
		p.OrderID = &id
	}
	return &p, nil
}

func callbackKey(provider, eventID string) string {
	return provider + "\x00" + eventID
}

func (r *paymentRepo) RecordCallback(ctx context.Context, cb payment.Callback) (int64, bool, error) {
	key := callbackKey(cb.Provider, cb.EventID)
	if rec, ok := r.st.callbacks[key]; ok {
		if rec.processed {
			return 0, true, nil
		}
		rec.cb = cb
		rec.cb.Payload = slices.Clone(cb.Payload)
		rec.failure = ""
		r.st.callbacks[key] = rec
		return rec.id, false, nil
	}
	r.st.lastCallbackID++
	cb.Payload = slices.Clone(cb.Payload)
	r.st.callbacks[key] = callbackRecord{id: r.st.lastCallbackID, cb: cb}
	return r.st.lastCallbackID, false, nil
}

func (r *paymentRepo) MarkCallbackProcessed(ctx context.Context, callbackID int64) error {
	return r.updateCallback(callbackID, func(rec *callbackRecord) { rec.processed = true })
}

func (r *paymentRepo) MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error {
	return r.updateCallback(callbackID, func(rec *callbackRecord) { rec.failure = reason })
}

func (r *paymentRepo) updateCallback(id int64, fn func(*callbackRecord)) error {
	for key, rec := range r.st.callbacks {
		if rec.id == id {
			fn(&rec)
			r.st.callbacks[key] = rec
			return nil
		}
	}
	return nil
}
