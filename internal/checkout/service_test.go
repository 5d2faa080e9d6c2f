package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront-be/internal/cart"
	"storefront-be/internal/metrics"
	"storefront-be/internal/notify"
	"storefront-be/internal/order"
	"storefront-be/internal/payment"
	"storefront-be/internal/product"
	"storefront-be/internal/store"
	"storefront-be/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (s *recordingSink) Notify(ctx context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSink) kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Kind, len(s.sent))
	for i, n := range s.sent {
		out[i] = n.Kind
	}
	return out
}

type fixture struct {
	st   *memory.Store
	svc  Service
	sink *recordingSink
	reg  *prometheus.Registry
	cfg  Config
	a, b int64
	ref  cart.Ref
}

func testConfig() Config {
	return Config{
		Tax:         order.DefaultTaxPolicy(),
		Numberer:    order.Numberer{},
		LinePricing: PricingLive,
		Statuses:    payment.NewStatusMapper([]string{"Success", "PAID"}),
	}
}

var customer = order.CustomerDetails{
	FirstName:    "Ani",
	LastName:     "Putri",
	Phone:        "081234567890",
	Email:        "ani@example.com",
	AddressLine1: "Jl. Merdeka 1",
	City:         "Bandung",
}

// newFixture seeds product A (price 10, stock 10) and product B (price 5,
// stock bStock) and a cart holding 2 x A and 1 x B.
func newFixture(t *testing.T, bStock int) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		st:   memory.New(),
		sink: &recordingSink{},
		reg:  prometheus.NewRegistry(),
		cfg:  testConfig(),
		ref:  cart.SessionRef("3f0c6a8e-session"),
	}
	f.svc = NewService(f.st, f.sink, f.cfg, metrics.New(f.reg))

	require.NoError(t, f.st.Update(ctx, func(r store.Repos) error {
		a := &product.Product{Name: "A", Price: decimal.NewFromInt(10), Stock: 10, IsAvailable: true}
		b := &product.Product{Name: "B", Price: decimal.NewFromInt(5), Stock: bStock, IsAvailable: true}
		require.NoError(t, r.Products.Create(ctx, a))
		require.NoError(t, r.Products.Create(ctx, b))
		f.a, f.b = a.ID, b.ID

		require.NoError(t, r.Carts.Upsert(ctx, &cart.Line{Ref: f.ref, ProductID: a.ID, Quantity: 2, Variations: cart.VariationSet{"color": "red"}}))
		return r.Carts.Upsert(ctx, &cart.Line{Ref: f.ref, ProductID: b.ID, Quantity: 1})
	}))
	return f
}

func (f *fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	var n int
	require.NoError(t, f.st.View(context.Background(), func(r store.Repos) error {
		var err error
		n, err = r.Ledger.Available(context.Background(), id)
		return err
	}))
	return n
}

func (f *fixture) order(t *testing.T, number string) *order.Order {
	t.Helper()
	var o *order.Order
	require.NoError(t, f.st.View(context.Background(), func(r store.Repos) error {
		var err error
		o, err = r.Orders.GetByNumber(context.Background(), number)
		return err
	}))
	return o
}

func (f *fixture) cartLines(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.st.View(context.Background(), func(r store.Repos) error {
		lines, err := r.Carts.Lines(context.Background(), f.ref)
		n = len(lines)
		return err
	}))
	return n
}

func (f *fixture) place(t *testing.T) *order.Order {
	t.Helper()
	o, err := f.svc.PlaceOrder(context.Background(), f.ref, customer, "10.0.0.1")
	require.NoError(t, err)
	return o
}

func confirmationFor(o *order.Order, txn string) payment.Confirmation {
	return payment.Confirmation{
		OrderNumber:   o.Number,
		TransactionID: txn,
		Method:        "QRIS",
		AmountPaid:    o.GrandTotal(),
		GatewayStatus: "Success",
	}
}

func TestService_PlaceOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Totals frozen at placement", func(t *testing.T) {
		f := newFixture(t, 1)
		f.svc.(*service).now = func() time.Time { return time.Date(2023, 5, 9, 10, 0, 0, 0, time.UTC) }

		o := f.place(t)
		assert.Equal(t, "202305091", o.Number)
		assert.Equal(t, order.StatusPlaced, o.Status)
		assert.False(t, o.IsOrdered)
		assert.True(t, decimal.NewFromInt(25).Equal(o.Total))
		assert.True(t, decimal.RequireFromString("0.5").Equal(o.Tax))
		assert.True(t, decimal.RequireFromString("25.5").Equal(o.GrandTotal()))
		assert.Len(t, o.Items, 2)
		assert.Equal(t, "10.0.0.1", o.IP)
		assert.Nil(t, o.AccountID)

		assert.Equal(t, 10, f.stock(t, f.a), "placing an order reserves nothing")
		assert.Equal(t, 2, f.cartLines(t), "cart lines survive placement")
		assert.Empty(t, f.sink.kinds())
	})

	t.Run("Account cart binds the account", func(t *testing.T) {
		f := newFixture(t, 1)
		ref := cart.AccountRef(42)
		require.NoError(t, f.st.Update(ctx, func(r store.Repos) error {
			return r.Carts.Upsert(ctx, &cart.Line{Ref: ref, ProductID: f.a, Quantity: 1})
		}))

		o, err := f.svc.PlaceOrder(ctx, ref, customer, "")
		require.NoError(t, err)
		require.NotNil(t, o.AccountID)
		assert.Equal(t, int64(42), *o.AccountID)
	})

	t.Run("Empty cart", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.PlaceOrder(ctx, cart.SessionRef("nobody"), customer, "")
		assert.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("Invalid details", func(t *testing.T) {
		f := newFixture(t, 1)
		bad := customer
		bad.Email = "not-an-email"
		_, err := f.svc.PlaceOrder(ctx, f.ref, bad, "")
		assert.ErrorIs(t, err, order.ErrInvalidCustomerDetails)
	})

	t.Run("Resubmission supersedes the pending order", func(t *testing.T) {
		f := newFixture(t, 1)
		first := f.place(t)
		second := f.place(t)

		assert.NotEqual(t, first.Number, second.Number)
		assert.Equal(t, order.StatusCancelled, f.order(t, first.Number).Status)
		assert.Equal(t, order.StatusPlaced, f.order(t, second.Number).Status)

		assert.Equal(t, 2.0, metricValue(t, f.reg, "storefront_orders_placed_total", ""))
		assert.Equal(t, 1.0, metricValue(t, f.reg, "storefront_orders_cancelled_total", ""))
	})

	t.Run("Later cart changes do not touch the order", func(t *testing.T) {
		f := newFixture(t, 1)
		o := f.place(t)
		require.NoError(t, f.st.Update(ctx, func(r store.Repos) error {
			return r.Carts.Upsert(ctx, &cart.Line{Ref: f.ref, ProductID: f.a, Quantity: 5, Variations: cart.VariationSet{"color": "red"}})
		}))

		stored := f.order(t, o.Number)
		assert.True(t, decimal.NewFromInt(25).Equal(stored.Total))
		assert.Equal(t, 2, stored.Items[0].Quantity)
	})
}

func TestService_Finalize(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t, 1)
		o := f.place(t)

		rcpt, err := f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
		require.NoError(t, err)

		assert.Equal(t, 8, f.stock(t, f.a))
		assert.Equal(t, 0, f.stock(t, f.b))
		assert.Equal(t, 0, f.cartLines(t))

		paid := f.order(t, o.Number)
		assert.Equal(t, order.StatusPaid, paid.Status)
		assert.True(t, paid.IsOrdered)

		require.Len(t, rcpt.Lines, 2)
		assert.Equal(t, "A", rcpt.Lines[0].ProductName)
		assert.Equal(t, 2, rcpt.Lines[0].Quantity)
		assert.Equal(t, []string{"color=red"}, rcpt.Lines[0].Variations)
		assert.True(t, decimal.NewFromInt(20).Equal(rcpt.Lines[0].Subtotal))
		assert.True(t, decimal.NewFromInt(25).Equal(rcpt.Subtotal))
		assert.True(t, decimal.RequireFromString("0.5").Equal(rcpt.Tax))
		assert.True(t, decimal.RequireFromString("25.5").Equal(rcpt.GrandTotal))
		assert.Equal(t, "txn-1", rcpt.TransactionID)
		assert.Equal(t, "QRIS", rcpt.Method)
		assert.Equal(t, order.StatusPaid, rcpt.Status)

		require.Len(t, f.sink.sent, 1)
		assert.Equal(t, notify.KindPaymentCompleted, f.sink.sent[0].Kind)
		assert.Equal(t, customer.Email, f.sink.sent[0].Recipient)
		assert.Equal(t, o.Number, f.sink.sent[0].Payload["order_number"])

		assert.Equal(t, 1.0, finalized(t, f.reg, metrics.OutcomePaid))
	})

	t.Run("Replay returns the same receipt once", func(t *testing.T) {
		f := newFixture(t, 5)
		o := f.place(t)
		c := confirmationFor(o, "txn-1")

		first, err := f.svc.Finalize(ctx, c)
		require.NoError(t, err)
		second, err := f.svc.Finalize(ctx, c)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 8, f.stock(t, f.a))
		assert.Equal(t, 4, f.stock(t, f.b))
		assert.Equal(t, []notify.Kind{notify.KindPaymentCompleted}, f.sink.kinds())
		assert.Equal(t, 1.0, finalized(t, f.reg, metrics.OutcomeReplayed))
	})

	t.Run("Insufficient stock is all or nothing", func(t *testing.T) {
		f := newFixture(t, 0)
		o := f.place(t)

		_, err := f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
		assert.ErrorIs(t, err, ErrInsufficientStock)

		assert.Equal(t, 10, f.stock(t, f.a))
		assert.Equal(t, 0, f.stock(t, f.b))
		assert.Equal(t, order.StatusPlaced, f.order(t, o.Number).Status)
		assert.Equal(t, 2, f.cartLines(t))
		assert.Equal(t, []notify.Kind{notify.KindPaymentFailed}, f.sink.kinds())

		require.NoError(t, f.st.View(ctx, func(r store.Repos) error {
			p, err := r.Payments.GetByTransactionID(ctx, "txn-1")
			require.NoError(t, err)
			assert.Equal(t, payment.StatusFailed, p.Status)
			return nil
		}))

		_, err = f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
		assert.ErrorIs(t, err, ErrPaymentRejected, "a declined transaction stays declined")

		require.NoError(t, f.st.Update(ctx, func(r store.Repos) error {
			return r.Ledger.Restock(ctx, f.b, 3)
		}))
		_, err = f.svc.Finalize(ctx, confirmationFor(o, "txn-2"))
		require.NoError(t, err)
		assert.Equal(t, 8, f.stock(t, f.a))
		assert.Equal(t, 2, f.stock(t, f.b))
	})

	t.Run("Gateway status not a success code", func(t *testing.T) {
		f := newFixture(t, 1)
		o := f.place(t)
		c := confirmationFor(o, "txn-1")
		c.GatewayStatus = "EXPIRED"

		_, err := f.svc.Finalize(ctx, c)
		assert.ErrorIs(t, err, ErrPaymentRejected)
		assert.Equal(t, order.StatusPlaced, f.order(t, o.Number).Status)
		assert.Equal(t, 10, f.stock(t, f.a))
		assert.Equal(t, []notify.Kind{notify.KindPaymentFailed}, f.sink.kinds())
		assert.Equal(t, 1.0, finalized(t, f.reg, metrics.OutcomeRejected))
	})

	t.Run("Reported amount is recorded as given", func(t *testing.T) {
		f := newFixture(t, 1)
		o := f.place(t)
		c := confirmationFor(o, "txn-1")
		c.AmountPaid = decimal.NewFromInt(25)

		rcpt, err := f.svc.Finalize(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, f.order(t, o.Number).Status)
		assert.True(t, decimal.NewFromInt(25).Equal(rcpt.AmountPaid))
		assert.True(t, decimal.RequireFromString("25.5").Equal(rcpt.GrandTotal))
		assert.Equal(t, 8, f.stock(t, f.a))
	})

	t.Run("Missing amount is booked at the order total", func(t *testing.T) {
		f := newFixture(t, 1)
		o := f.place(t)
		c := confirmationFor(o, "txn-1")
		c.AmountPaid = decimal.Zero

		rcpt, err := f.svc.Finalize(ctx, c)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(25).Equal(rcpt.AmountPaid))

		again, err := f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
		require.NoError(t, err, "the transaction id stays usable for replays")
		assert.Equal(t, rcpt, again)
	})

	t.Run("Unknown order", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.Finalize(ctx, payment.Confirmation{
			OrderNumber: "190001011", TransactionID: "txn-1", AmountPaid: decimal.NewFromInt(1), GatewayStatus: "Success",
		})
		assert.ErrorIs(t, err, ErrOrderNotFound)
		assert.Empty(t, f.sink.kinds())
		assert.Equal(t, 1.0, finalized(t, f.reg, metrics.OutcomeNotFound))
	})

	t.Run("Paid order does not take a second payment", func(t *testing.T) {
		f := newFixture(t, 5)
		o := f.place(t)
		_, err := f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
		require.NoError(t, err)

		_, err = f.svc.Finalize(ctx, confirmationFor(o, "txn-2"))
		assert.ErrorIs(t, err, ErrOrderNotFound)
		assert.Equal(t, 8, f.stock(t, f.a))
		assert.Equal(t, 4, f.stock(t, f.b))
	})

	t.Run("Transaction reused for another order", func(t *testing.T) {
		f := newFixture(t, 5)
		first := f.place(t)
		_, err := f.svc.Finalize(ctx, confirmationFor(first, "txn-1"))
		require.NoError(t, err)

		require.NoError(t, f.st.Update(ctx, func(r store.Repos) error {
			return r.Carts.Upsert(ctx, &cart.Line{Ref: f.ref, ProductID: f.a, Quantity: 1})
		}))
		second := f.place(t)

		_, err = f.svc.Finalize(ctx, confirmationFor(second, "txn-1"))
		assert.ErrorIs(t, err, ErrDuplicateTransaction)
		assert.Equal(t, order.StatusPlaced, f.order(t, second.Number).Status)
	})

	t.Run("Cancelled order", func(t *testing.T) {
		f := newFixture(t, 1)
		o := f.place(t)
		require.NoError(t, f.svc.CancelOrder(ctx, o.Number))

		_, err := f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("Incomplete confirmation", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.Finalize(ctx, payment.Confirmation{OrderNumber: "1"})
		assert.ErrorIs(t, err, payment.ErrInvalidConfirmation)
	})

	t.Run("Notification failure keeps the payment", func(t *testing.T) {
		f := newFixture(t, 1)
		f.sink.err = errors.New("smtp down")
		o := f.place(t)

		_, err := f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, f.order(t, o.Number).Status)
	})

	t.Run("Concurrent deliveries apply once", func(t *testing.T) {
		f := newFixture(t, 5)
		o := f.place(t)
		c := confirmationFor(o, "txn-1")

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Finalize(ctx, c)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, 8, f.stock(t, f.a))
		assert.Equal(t, 4, f.stock(t, f.b))
		assert.Equal(t, []notify.Kind{notify.KindPaymentCompleted}, f.sink.kinds())
	})
}

// repricing serves product reads at a fixed price, standing in for a
// catalog price change between placement and payment.
// lateCommit hides the first transaction lookup of each Update, as if a
// concurrent process committed the payment between that read and the order
// lock.
type lateCommit struct {
	store.UnitOfWork
}

type missFirstLookup struct {
	payment.Repository
	missed bool
}

func (p *missFirstLookup) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	if !p.missed {
		p.missed = true
		return nil, payment.ErrPaymentNotFound
	}
	return p.Repository.GetByTransactionID(ctx, transactionID)
}

func (u lateCommit) Update(ctx context.Context, fn func(store.Repos) error) error {
	return u.UnitOfWork.Update(ctx, func(r store.Repos) error {
		r.Payments = &missFirstLookup{Repository: r.Payments}
		return fn(r)
	})
}

func TestService_FinalizeCommittedElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	o := f.place(t)

	first, err := f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
	require.NoError(t, err)

	other := NewService(lateCommit{UnitOfWork: f.st}, f.sink, f.cfg, nil)

	t.Run("Same transaction replays the receipt", func(t *testing.T) {
		rcpt, err := other.Finalize(ctx, confirmationFor(o, "txn-1"))
		require.NoError(t, err)
		assert.Equal(t, first, rcpt)
		assert.Equal(t, 8, f.stock(t, f.a))
		assert.Equal(t, 4, f.stock(t, f.b))
		assert.Equal(t, []notify.Kind{notify.KindPaymentCompleted}, f.sink.kinds())
	})

	t.Run("Different transaction is refused", func(t *testing.T) {
		_, err := other.Finalize(ctx, confirmationFor(o, "txn-2"))
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

type repricing struct {
	store.UnitOfWork
	price decimal.Decimal
}

type repricedProducts struct {
	product.Repository
	price decimal.Decimal
}

func (p repricedProducts) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	prod, err := p.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prod.Price = p.price
	return prod, nil
}

func (u repricing) Update(ctx context.Context, fn func(store.Repos) error) error {
	return u.UnitOfWork.Update(ctx, func(r store.Repos) error {
		r.Products = repricedProducts{Repository: r.Products, price: u.price}
		return fn(r)
	})
}

func TestService_FinalizeLinePricing(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		pricing string
		want    decimal.Decimal
	}{
		{PricingLive, decimal.NewFromInt(12)},
		{PricingSnapshot, decimal.NewFromInt(10)},
	} {
		t.Run(tc.pricing, func(t *testing.T) {
			f := newFixture(t, 1)
			o := f.place(t)

			cfg := f.cfg
			cfg.LinePricing = tc.pricing
			svc := NewService(repricing{UnitOfWork: f.st, price: decimal.NewFromInt(12)}, notify.Nop{}, cfg, nil)

			rcpt, err := svc.Finalize(ctx, confirmationFor(o, "txn-1"))
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(rcpt.Lines[0].UnitPrice), rcpt.Lines[0].UnitPrice.String())
			assert.True(t, decimal.RequireFromString("25.5").Equal(rcpt.AmountPaid), "amount due is frozen at placement")
		})
	}
}

func TestService_GetReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	o := f.place(t)

	rcpt, err := f.svc.GetReceipt(ctx, o.Number, "txn-1")
	require.NoError(t, err)
	assert.Nil(t, rcpt, "unpaid order has no receipt")

	paid, err := f.svc.Finalize(ctx, confirmationFor(o, "txn-1"))
	require.NoError(t, err)

	rcpt, err = f.svc.GetReceipt(ctx, o.Number, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, paid, rcpt)

	for name, args := range map[string][2]string{
		"Mismatched transaction": {o.Number, "txn-2"},
		"Unknown order":          {"190001011", "txn-1"},
		"Missing transaction":    {o.Number, ""},
	} {
		t.Run(name, func(t *testing.T) {
			rcpt, err := f.svc.GetReceipt(ctx, args[0], args[1])
			require.NoError(t, err)
			assert.Nil(t, rcpt)
		})
	}
}

func TestService_CancelOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	o := f.place(t)

	require.NoError(t, f.svc.CancelOrder(ctx, o.Number))
	assert.Equal(t, order.StatusCancelled, f.order(t, o.Number).Status)

	assert.ErrorIs(t, f.svc.CancelOrder(ctx, o.Number), order.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.CancelOrder(ctx, "190001011"), ErrOrderNotFound)
}

func TestUserMessage(t *testing.T) {
	seen := map[string]error{}
	for _, err := range []error{
		ErrEmptyCart,
		ErrOrderNotFound,
		ErrPaymentRejected,
		ErrInsufficientStock,
		ErrDuplicateTransaction,
	} {
		msg := UserMessage(err)
		assert.NotEmpty(t, msg)
		assert.NotContains(t, seen, msg, "message for %v is not distinct", err)
		seen[msg] = err
	}

	generic := UserMessage(errors.New("pq: deadlock detected"))
	assert.NotContains(t, generic, "pq")
	assert.NotContains(t, seen, generic)
	assert.Empty(t, UserMessage(nil))
}

// metricValue reads a counter series from reg. label, when set, selects the
// series carrying that label value.
func metricValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, l := range m.GetLabel() {
				if l.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func finalized(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	return metricValue(t, reg, "storefront_payment_finalize_total", outcome)
}
