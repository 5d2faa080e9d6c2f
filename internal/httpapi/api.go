// Package httpapi exposes the cart, checkout and receipt operations as a
// JSON API.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"storefront-be/internal/cart"
	"storefront-be/internal/checkout"
	"storefront-be/internal/inventory"
	"storefront-be/internal/logger"
	"storefront-be/internal/middleware"
	"storefront-be/internal/order"
	"storefront-be/internal/product"
	"storefront-be/internal/store"
	"storefront-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type API struct {
	uow      store.UnitOfWork
	checkout checkout.Service
	tax      cart.TaxFunc
}

var _ middleware.CartMerger = (*API)(nil)

func New(uow store.UnitOfWork, svc checkout.Service, tax cart.TaxFunc) *API {
	return &API{uow: uow, checkout: svc, tax: tax}
}

// Routes mounts the API on r. Callers install the Identity middleware
// first so every handler finds a cart ref in the context.
func (a *API) Routes(r chi.Router) {
	r.Get("/cart", a.getCart)
	r.Post("/cart/items", a.addItem)
	r.Post("/cart/items/{lineID}/subtract", a.subtractItem)
	r.Delete("/cart/items/{lineID}", a.removeItem)

	r.Post("/checkout", a.placeOrder)
	r.Post("/orders/{number}/cancel", a.cancelOrder)
	r.Get("/orders/{number}/receipt", a.getReceipt)

	r.With(middleware.RequireRole(utils.RoleAdmin)).
		Post("/admin/products/{id}/restock", a.restock)
}

func (a *API) carts(r store.Repos) cart.Service {
	return cart.NewService(r.Carts, r.Products, a.tax)
}

// MergeCart moves an anonymous cart into the account cart after sign in.
func (a *API) MergeCart(ctx context.Context, from, to cart.Ref) error {
	return a.uow.Update(ctx, func(r store.Repos) error {
		return a.carts(r).MergeInto(ctx, from, to)
	})
}

func cartRef(w http.ResponseWriter, r *http.Request) (cart.Ref, bool) {
	ref, ok := utils.CartRefFromContext(r.Context())
	if !ok {
		utils.WriteJSONError(w, "missing cart identity", http.StatusUnauthorized)
	}
	return ref, ok
}

func (a *API) getCart(w http.ResponseWriter, r *http.Request) {
	ref, ok := cartRef(w, r)
	if !ok {
		return
	}

	var view *cart.View
	err := a.uow.View(r.Context(), func(repos store.Repos) error {
		var err error
		view, err = a.carts(repos).View(r.Context(), ref)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, view)
}

type addItemRequest struct {
	ProductID  int64             `json:"product_id"`
	Variations cart.VariationSet `json:"variations"`
}

func (a *API) addItem(w http.ResponseWriter, r *http.Request) {
	ref, ok := cartRef(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ProductID <= 0 {
		utils.WriteJSONError(w, "product_id is required", http.StatusBadRequest)
		return
	}

	var line *cart.Line
	err := a.uow.Update(r.Context(), func(repos store.Repos) error {
		var err error
		line, err = a.carts(repos).AddItem(r.Context(), ref, req.ProductID, req.Variations)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, line)
}

func (a *API) subtractItem(w http.ResponseWriter, r *http.Request) {
	a.changeLine(w, r, func(ctx context.Context, svc cart.Service, ref cart.Ref, lineID int64) error {
		return svc.SubtractItem(ctx, ref, lineID)
	})
}

func (a *API) removeItem(w http.ResponseWriter, r *http.Request) {
	a.changeLine(w, r, func(ctx context.Context, svc cart.Service, ref cart.Ref, lineID int64) error {
		return svc.RemoveItem(ctx, ref, lineID)
	})
}

func (a *API) changeLine(w http.ResponseWriter, r *http.Request, fn func(context.Context, cart.Service, cart.Ref, int64) error) {
	ref, ok := cartRef(w, r)
	if !ok {
		return
	}
	lineID, err := utils.ParseID(chi.URLParam(r, "lineID"))
	if err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = a.uow.Update(r.Context(), func(repos store.Repos) error {
		return fn(r.Context(), a.carts(repos), ref, lineID)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type placeOrderResponse struct {
	OrderNumber string          `json:"order_number"`
	Status      order.Status    `json:"status"`
	OrderTotal  decimal.Decimal `json:"order_total"`
	Tax         decimal.Decimal `json:"tax"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
}

func (a *API) placeOrder(w http.ResponseWriter, r *http.Request) {
	ref, ok := cartRef(w, r)
	if !ok {
		return
	}

	var details order.CustomerDetails
	if err := utils.DecodeJSON(r, &details); err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	o, err := a.checkout.PlaceOrder(r.Context(), ref, details, utils.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, placeOrderResponse{
		OrderNumber: o.Number,
		Status:      o.Status,
		OrderTotal:  o.Total,
		Tax:         o.Tax,
		GrandTotal:  o.GrandTotal(),
	})
}

// ownsOrder reports whether the caller may act on the order: its cart placed
// it, or the caller is an admin.
func (a *API) ownsOrder(r *http.Request, number string) (bool, error) {
	if id, _ := utils.IdentityFrom(r.Context()); id.IsAdmin() || utils.IsInternalRequest(r.Context()) {
		return true, nil
	}
	ref, _ := utils.CartRefFromContext(r.Context())

	var owned bool
	err := a.uow.View(r.Context(), func(repos store.Repos) error {
		o, err := repos.Orders.GetByNumber(r.Context(), number)
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		owned = o.CartRef == ref
		return nil
	})
	return owned, err
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	owned, err := a.ownsOrder(r, number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !owned {
		writeError(w, r, checkout.ErrOrderNotFound)
		return
	}

	if err := a.checkout.CancelOrder(r.Context(), number); err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"order_number": number,
		"status":       order.StatusCancelled,
	})
}

func (a *API) getReceipt(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	txnID := r.URL.Query().Get("payment_id")

	rcpt, err := a.checkout.GetReceipt(r.Context(), number, txnID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rcpt == nil {
		utils.WriteJSONError(w, "receipt not found", http.StatusNotFound)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rcpt)
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (a *API) restock(w http.ResponseWriter, r *http.Request) {
	productID, err := utils.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req restockRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var stock int
	err = a.uow.Update(r.Context(), func(repos store.Repos) error {
		if err := repos.Ledger.Restock(r.Context(), productID, req.Quantity); err != nil {
			return err
		}
		var err error
		stock, err = repos.Ledger.Available(r.Context(), productID)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.FromCtx(r.Context()).Info("product restocked",
		zap.String("layer", "handler"),
		zap.Int64("product_id", productID),
		zap.Int("quantity", req.Quantity),
		zap.Int("stock", stock),
	)
	utils.WriteJSON(w, http.StatusOK, map[string]any{"product_id": productID, "stock": stock})
}

// writeError answers with the status and message for err. Errors outside
// the known set are logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, checkout.UserMessage(err)

	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, checkout.ErrPaymentRejected):
		status = http.StatusPaymentRequired
	case errors.Is(err, checkout.ErrInsufficientStock), errors.Is(err, checkout.ErrDuplicateTransaction):
		status = http.StatusConflict
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrStatusConflict):
		status, msg = http.StatusConflict, checkout.UserMessage(order.ErrInvalidTransition)
	case errors.Is(err, order.ErrInvalidCustomerDetails):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, cart.ErrInvalidRef), errors.Is(err, cart.ErrInvalidVariation), errors.Is(err, inventory.ErrInvalidQuantity):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, cart.ErrProductUnavailable):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, cart.ErrCartItemNotFound), errors.Is(err, product.ErrProductNotFound), errors.Is(err, inventory.ErrProductNotFound):
		status, msg = http.StatusNotFound, err.Error()
	default:
		logger.FromCtx(r.Context()).Error("request failed",
			zap.String("layer", "handler"),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	utils.WriteJSONError(w, msg, status)
}
