// Package checkout turns carts into orders and reconciles gateway payment
// confirmations against them.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront-be/internal/cart"
	"storefront-be/internal/inventory"
	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"
	"storefront-be/internal/notify"
	"storefront-be/internal/order"
	"storefront-be/internal/payment"
	"storefront-be/internal/product"
	"storefront-be/internal/store"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const tracerName = "storefront-be/internal/checkout"

// Line pricing policies applied when a paid order's lines are written.
const (
	PricingLive     = "live"
	PricingSnapshot = "snapshot"
)

type Config struct {
	Tax      order.TaxPolicy
	Numberer order.Numberer
	// LinePricing is PricingLive (re-read the product price at payment) or
	// PricingSnapshot (keep the price captured at placement).
	LinePricing string
	Statuses    payment.StatusMapper
}

// Service defines the order workflow and payment reconciliation.
type Service interface {
	PlaceOrder(ctx context.Context, ref cart.Ref, details order.CustomerDetails, clientIP string) (*order.Order, error)
	Finalize(ctx context.Context, c payment.Confirmation) (*Receipt, error)
	// GetReceipt returns nil, nil when there is no paid order matching both
	// the number and the transaction id.
	GetReceipt(ctx context.Context, orderNumber, transactionID string) (*Receipt, error)
	CancelOrder(ctx context.Context, orderNumber string) error
}

type service struct {
	uow     store.UnitOfWork
	sink    notify.Sink
	cfg     Config
	metrics *metrics.Metrics
	tracer  trace.Tracer
	flight  singleflight.Group
	now     func() time.Time
}

func NewService(uow store.UnitOfWork, sink notify.Sink, cfg Config, m *metrics.Metrics) Service {
	if sink == nil {
		sink = notify.Nop{}
	}
	if cfg.LinePricing == "" {
		cfg.LinePricing = PricingLive
	}
	return &service{
		uow:     uow,
		sink:    sink,
		cfg:     cfg,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
	span.End()
}

func (s *service) PlaceOrder(ctx context.Context, ref cart.Ref, details order.CustomerDetails, clientIP string) (placed *order.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder", trace.WithAttributes(
		attribute.String("cart.ref", ref.String()),
	))
	defer func() { endSpan(span, err) }()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "PlaceOrder"),
		zap.String("cart_ref", ref.String()),
	)

	if !ref.Valid() {
		return nil, cart.ErrInvalidRef
	}
	if err := details.Validate(); err != nil {
		log.Warn("invalid customer details", zap.Error(err))
		return nil, err
	}

	var superseded int
	err = s.uow.Update(ctx, func(r store.Repos) error {
		snap, err := cart.Capture(ctx, r.Carts, r.Products, ref)
		if err != nil {
			return err
		}

		stale, err := r.Orders.PlacedByCart(ctx, ref)
		if err != nil {
			return err
		}
		for _, prev := range stale {
			if err := r.Orders.UpdateStatus(ctx, prev.ID, order.StatusPlaced, order.StatusCancelled); err != nil {
				return fmt.Errorf("supersede order %s: %w", prev.Number, err)
			}
		}
		superseded = len(stale)

		ordinal, err := r.Orders.NextOrdinal(ctx)
		if err != nil {
			return err
		}

		total := snap.Total()
		o := &order.Order{
			Number:   s.cfg.Numberer.Number(s.now(), ordinal),
			CartRef:  ref,
			Customer: details,
			Total:    total,
			Tax:      s.cfg.Tax.Tax(total),
			Status:   order.StatusCreated,
			IP:       clientIP,
			Items:    snap.Items(),
		}
		if id, ok := ref.AccountID(); ok {
			o.AccountID = &id
		}
		if err := o.Transition(order.StatusPlaced); err != nil {
			return err
		}
		if err := r.Orders.Create(ctx, o); err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			log.Info("checkout with empty cart")
		} else {
			log.Error("failed to place order", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.OrderPlaced()
	for i := 0; i < superseded; i++ {
		s.metrics.OrderCancelled()
	}
	span.SetAttributes(attribute.String("order.number", placed.Number))
	log.Info("order placed",
		zap.String("order_number", placed.Number),
		zap.String("order_total", placed.Total.String()),
		zap.String("tax", placed.Tax.String()),
		zap.Int("superseded", superseded),
	)
	return placed, nil
}

// attempt collects what a finalize transaction learned before it committed
// or rolled back.
type attempt struct {
	receipt  *Receipt
	replayed bool
	order    *order.Order
}

type flightResult struct {
	orderNumber string
	attempt     *attempt
}

func (s *service) Finalize(ctx context.Context, c payment.Confirmation) (rcpt *Receipt, err error) {
	timer := metrics.StartTimer()
	ctx, span := s.tracer.Start(ctx, "checkout.Finalize", trace.WithAttributes(
		attribute.String("order.number", c.OrderNumber),
		attribute.String("payment.transaction_id", c.TransactionID),
		attribute.String("payment.gateway_status", c.GatewayStatus),
	))
	replayed := false
	defer func() {
		s.metrics.Finalized(outcome(err, replayed), timer.Duration())
		endSpan(span, err)
	}()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	leader := false
	v, err, _ := s.flight.Do(c.TransactionID, func() (any, error) {
		leader = true
		a, err := s.finalize(ctx, c)
		return &flightResult{orderNumber: c.OrderNumber, attempt: a}, err
	})
	res := v.(*flightResult)
	if !leader && res.orderNumber != c.OrderNumber {
		return nil, fmt.Errorf("%w: transaction %s", ErrDuplicateTransaction, c.TransactionID)
	}
	if err != nil {
		return nil, err
	}
	replayed = res.attempt.replayed || !leader
	span.SetAttributes(attribute.Bool("payment.replayed", replayed))
	return res.attempt.receipt, nil
}

func (s *service) finalize(ctx context.Context, c payment.Confirmation) (*attempt, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Finalize"),
		zap.String("order_number", c.OrderNumber),
		zap.String("transaction_id", c.TransactionID),
	)

	a := &attempt{}
	err := s.uow.Update(ctx, func(r store.Repos) error {
		prior, err := r.Payments.GetByTransactionID(ctx, c.TransactionID)
		switch {
		case err == nil:
			return s.replay(ctx, r, prior, c, a)
		case !errors.Is(err, payment.ErrPaymentNotFound):
			return err
		}

		o, err := r.Orders.LockByNumber(ctx, c.OrderNumber)
		if err != nil {
			return err
		}
		if o.Status == order.StatusPaid {
			// Another process may have committed this transaction while the
			// lock was held elsewhere.
			prior, err := r.Payments.GetByTransactionID(ctx, c.TransactionID)
			switch {
			case err == nil:
				return s.replay(ctx, r, prior, c, a)
			case !errors.Is(err, payment.ErrPaymentNotFound):
				return err
			}
		}
		if o.Status != order.StatusPlaced {
			return fmt.Errorf("%w: order %s is %s", ErrOrderNotFound, o.Number, o.Status)
		}
		a.order = o

		if !s.cfg.Statuses.IsSuccess(c.GatewayStatus) {
			return fmt.Errorf("%w: gateway status %q", ErrPaymentRejected, c.GatewayStatus)
		}

		// The gateway status decides acceptance. The amount is recorded as
		// reported; gateways that omit it are booked at the order total.
		paid := c.AmountPaid
		if paid.IsZero() {
			paid = o.Total
		}
		if due := o.GrandTotal(); !paid.Equal(due) {
			log.Warn("amount paid differs from amount due",
				zap.String("amount_paid", paid.String()),
				zap.String("amount_due", due.String()),
			)
			trace.SpanFromContext(ctx).AddEvent("payment.amount_mismatch", trace.WithAttributes(
				attribute.String("payment.amount_paid", paid.String()),
				attribute.String("order.amount_due", due.String()),
			))
		}

		p := &payment.Payment{
			TransactionID: c.TransactionID,
			OrderID:       &o.ID,
			Method:        c.Method,
			AmountPaid:    paid,
			Status:        payment.StatusSuccess,
			GatewayStatus: c.GatewayStatus,
		}
		if err := r.Payments.Create(ctx, p); err != nil {
			return err
		}

		if err := o.Transition(order.StatusPaid); err != nil {
			return err
		}
		if err := r.Orders.UpdateStatus(ctx, o.ID, order.StatusPlaced, order.StatusPaid); err != nil {
			return err
		}

		lines, err := s.reserveLines(ctx, r, o, p)
		if err != nil {
			return err
		}
		if err := r.Orders.InsertLines(ctx, lines); err != nil {
			return err
		}
		if _, err := r.Carts.Clear(ctx, o.CartRef); err != nil {
			return err
		}

		a.receipt = buildReceipt(o, p, lines)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentRejected), errors.Is(err, ErrInsufficientStock):
			log.Warn("payment not applied", zap.Error(err))
			if a.order != nil {
				s.recordFailure(ctx, a.order, c, err)
			}
		case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrDuplicateTransaction):
			log.Warn("confirmation refused", zap.Error(err))
		default:
			log.Error("failed to finalize payment", zap.Error(err))
		}
		return a, err
	}

	if a.replayed {
		log.Info("payment confirmation replayed")
		return a, nil
	}

	log.Info("order paid",
		zap.String("amount_paid", a.receipt.AmountPaid.String()),
		zap.Int("lines", len(a.receipt.Lines)),
	)
	s.emit(ctx, notify.New(notify.KindPaymentCompleted, a.order.Customer.Email, map[string]any{
		"order_number":   a.receipt.OrderNumber,
		"customer_name":  a.order.Customer.FullName(),
		"transaction_id": a.receipt.TransactionID,
		"payment_method": a.receipt.Method,
		"amount_paid":    a.receipt.AmountPaid.String(),
		"grand_total":    a.receipt.GrandTotal.String(),
		"lines":          len(a.receipt.Lines),
	}))
	return a, nil
}

// replay answers a confirmation whose transaction id is already recorded.
func (s *service) replay(ctx context.Context, r store.Repos, prior *payment.Payment, c payment.Confirmation, a *attempt) error {
	if prior.Status != payment.StatusSuccess {
		return fmt.Errorf("%w: transaction %s was declined", ErrPaymentRejected, c.TransactionID)
	}

	o, err := r.Orders.GetByNumber(ctx, c.OrderNumber)
	if err != nil && !errors.Is(err, order.ErrOrderNotFound) {
		return err
	}
	if o == nil || prior.OrderID == nil || *prior.OrderID != o.ID {
		return fmt.Errorf("%w: transaction %s", ErrDuplicateTransaction, c.TransactionID)
	}

	lines, err := r.Orders.Lines(ctx, o.ID)
	if err != nil {
		return err
	}
	a.receipt = buildReceipt(o, prior, lines)
	a.replayed = true
	return nil
}

type lineTotal struct {
	productID  int64
	name       string
	quantity   int
	unitPrice  decimal.Decimal
	variations []string
}

// reserveLines takes stock for every product in the order and returns one
// line per distinct product. Products are reserved in id order.
func (s *service) reserveLines(ctx context.Context, r store.Repos, o *order.Order, p *payment.Payment) ([]order.Line, error) {
	byProduct := map[int64]*lineTotal{}
	for _, it := range o.Items {
		lt, ok := byProduct[it.ProductID]
		if !ok {
			lt = &lineTotal{productID: it.ProductID, name: it.ProductName, unitPrice: it.UnitPrice}
			byProduct[it.ProductID] = lt
		}
		lt.quantity += it.Quantity
		if key := it.Variations.Key(); key != "" && !contains(lt.variations, key) {
			lt.variations = append(lt.variations, key)
		}
	}

	totals := make([]*lineTotal, 0, len(byProduct))
	for _, lt := range byProduct {
		totals = append(totals, lt)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].productID < totals[j].productID })

	lines := make([]order.Line, 0, len(totals))
	for _, lt := range totals {
		if err := r.Ledger.Reserve(ctx, lt.productID, lt.quantity); err != nil {
			if errors.Is(err, inventory.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: product %d no longer exists", ErrInsufficientStock, lt.productID)
			}
			return nil, err
		}

		name, price := lt.name, lt.unitPrice
		if s.cfg.LinePricing == PricingLive {
			cur, err := r.Products.GetByID(ctx, lt.productID)
			if err != nil && !errors.Is(err, product.ErrProductNotFound) {
				return nil, err
			}
			if cur != nil {
				name, price = cur.Name, cur.Price
			}
		}

		lines = append(lines, order.Line{
			OrderID:     o.ID,
			PaymentID:   p.ID,
			ProductID:   lt.productID,
			ProductName: name,
			Quantity:    lt.quantity,
			UnitPrice:   price,
			Variations:  lt.variations,
			Ordered:     true,
		})
	}
	return lines, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// recordFailure stores a declined attempt outside the rolled-back
// transaction and tells the customer.
func (s *service) recordFailure(ctx context.Context, o *order.Order, c payment.Confirmation, cause error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "recordFailure"),
		zap.String("order_number", o.Number),
		zap.String("transaction_id", c.TransactionID),
	)

	err := s.uow.Update(ctx, func(r store.Repos) error {
		return r.Payments.Create(ctx, &payment.Payment{
			TransactionID: c.TransactionID,
			OrderID:       &o.ID,
			Method:        c.Method,
			AmountPaid:    c.AmountPaid,
			Status:        payment.StatusFailed,
			GatewayStatus: c.GatewayStatus,
		})
	})
	if err != nil && !errors.Is(err, payment.ErrDuplicateTransaction) {
		log.Error("failed to record declined payment", zap.Error(err))
	}

	s.emit(ctx, notify.New(notify.KindPaymentFailed, o.Customer.Email, map[string]any{
		"order_number":   o.Number,
		"customer_name":  o.Customer.FullName(),
		"transaction_id": c.TransactionID,
		"reason":         UserMessage(cause),
	}))
}

func (s *service) emit(ctx context.Context, n notify.Notification) {
	if err := s.sink.Notify(ctx, n); err != nil {
		logger.FromCtx(ctx).Warn("notification not delivered",
			zap.String("layer", "service"),
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)
	}
}

func outcome(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomePaid
	case errors.Is(err, ErrPaymentRejected), errors.Is(err, payment.ErrInvalidConfirmation):
		return metrics.OutcomeRejected
	case errors.Is(err, ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock
	case errors.Is(err, ErrOrderNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrDuplicateTransaction):
		return metrics.OutcomeDuplicate
	}
	return metrics.OutcomeError
}

func (s *service) GetReceipt(ctx context.Context, orderNumber, transactionID string) (rcpt *Receipt, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.GetReceipt", trace.WithAttributes(
		attribute.String("order.number", orderNumber),
	))
	defer func() { endSpan(span, err) }()

	if orderNumber == "" || transactionID == "" {
		return nil, nil
	}

	err = s.uow.View(ctx, func(r store.Repos) error {
		o, err := r.Orders.GetByNumber(ctx, orderNumber)
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if o.Status != order.StatusPaid {
			return nil
		}

		p, err := r.Payments.GetByTransactionID(ctx, transactionID)
		if errors.Is(err, payment.ErrPaymentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status != payment.StatusSuccess || p.OrderID == nil || *p.OrderID != o.ID {
			return nil
		}

		lines, err := r.Orders.Lines(ctx, o.ID)
		if err != nil {
			return err
		}
		rcpt = buildReceipt(o, p, lines)
		return nil
	})
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load receipt",
			zap.String("layer", "service"),
			zap.String("method", "GetReceipt"),
			zap.String("order_number", orderNumber),
			zap.Error(err),
		)
		return nil, err
	}
	return rcpt, nil
}

func (s *service) CancelOrder(ctx context.Context, orderNumber string) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CancelOrder"),
		zap.String("order_number", orderNumber),
	)

	err := s.uow.Update(ctx, func(r store.Repos) error {
		o, err := r.Orders.LockByNumber(ctx, orderNumber)
		if err != nil {
			return err
		}
		if o.Status != order.StatusPlaced {
			return fmt.Errorf("%w: order %s is %s", order.ErrInvalidTransition, o.Number, o.Status)
		}
		return r.Orders.UpdateStatus(ctx, o.ID, order.StatusPlaced, order.StatusCancelled)
	})
	if err != nil {
		log.Warn("order not cancelled", zap.Error(err))
		return err
	}

	s.metrics.OrderCancelled()
	log.Info("order cancelled")
	return nil
}
