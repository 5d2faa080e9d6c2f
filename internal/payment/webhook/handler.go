// Package webhook receives payment confirmations pushed by the gateway.
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"storefront-be/internal/checkout"
	"storefront-be/internal/logger"
	"storefront-be/internal/payment"
	"storefront-be/internal/store"
	"storefront-be/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	Provider            = "GATEWAY"
	CallbackTokenHeader = "X-Callback-Token"
	maxBodyBytes        = 1 << 20
)

// Payload is the JSON body the gateway posts for one transaction event.
type Payload struct {
	EventID string `json:"event_id"`
	payment.Confirmation
}

type Response struct {
	OrderNumber   string `json:"order_number"`
	TransactionID string `json:"transID"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type Handler struct {
	checkout checkout.Service
	uow      store.UnitOfWork
	token    string
}

func NewWebhookHandler(svc checkout.Service, uow store.UnitOfWork, callbackToken string) *Handler {
	return &Handler{checkout: svc, uow: uow, token: callbackToken}
}

func (h *Handler) tokenValid(r *http.Request) bool {
	got := r.Header.Get(CallbackTokenHeader)
	return h.token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

// PaymentWebhookHandler handles POST /webhook/payment.
func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("method", "PaymentWebhookHandler"),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.WriteJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("invalid webhook payload", zap.Error(err))
		utils.WriteJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	valid := h.tokenValid(r)
	cb := payment.Callback{
		Provider:      Provider,
		EventID:       payload.EventID,
		TransactionID: payload.TransactionID,
		Payload:       body,
		TokenValid:    valid,
	}
	if cb.EventID == "" {
		cb.EventID = payload.TransactionID
	}
	if !valid {
		// Unverified deliveries are kept for audit under their own key so
		// they can never shadow the genuine event.
		cb.EventID = "unverified-" + uuid.NewString()
	}

	log = log.With(
		zap.String("event_id", cb.EventID),
		zap.String("order_number", payload.OrderNumber),
		zap.String("transaction_id", payload.TransactionID),
	)

	var (
		callbackID int64
		duplicate  bool
	)
	err = h.uow.Update(ctx, func(repos store.Repos) error {
		var err error
		callbackID, duplicate, err = repos.Payments.RecordCallback(ctx, cb)
		return err
	})
	if err != nil {
		log.Error("failed to record callback", zap.Error(err))
		utils.WriteJSONError(w, "failed to record callback", http.StatusInternalServerError)
		return
	}

	if !valid {
		log.Warn("invalid callback token")
		h.markFailed(r, callbackID, "invalid callback token")
		utils.WriteJSONError(w, "invalid callback token", http.StatusUnauthorized)
		return
	}

	resp := Response{OrderNumber: payload.OrderNumber, TransactionID: payload.TransactionID}
	if duplicate {
		log.Info("duplicate callback acknowledged")
		utils.WriteJSON(w, http.StatusOK, resp)
		return
	}

	if _, err := h.checkout.Finalize(ctx, payload.Confirmation); err != nil {
		h.markFailed(r, callbackID, err.Error())
		status, code := classify(err)
		if status == http.StatusInternalServerError {
			log.Error("failed to finalize payment", zap.Error(err))
		}
		utils.WriteJSON(w, status, errorResponse{Error: checkout.UserMessage(err), Code: code})
		return
	}

	err = h.uow.Update(ctx, func(repos store.Repos) error {
		return repos.Payments.MarkCallbackProcessed(ctx, callbackID)
	})
	if err != nil {
		log.Error("failed to mark callback processed", zap.Error(err))
	}

	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) markFailed(r *http.Request, callbackID int64, reason string) {
	ctx := r.Context()
	err := h.uow.Update(ctx, func(repos store.Repos) error {
		return repos.Payments.MarkCallbackFailed(ctx, callbackID, reason)
	})
	if err != nil {
		logger.FromCtx(ctx).Error("failed to mark callback failed",
			zap.String("layer", "webhook"),
			zap.Int64("callback_id", callbackID),
			zap.Error(err),
		)
	}
}

// classify maps a reconciliation error to the HTTP answer for the gateway.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrInvalidConfirmation):
		return http.StatusBadRequest, "INVALID_CONFIRMATION"
	case errors.Is(err, checkout.ErrOrderNotFound):
		return http.StatusNotFound, "ORDER_NOT_FOUND"
	case errors.Is(err, checkout.ErrPaymentRejected):
		return http.StatusPaymentRequired, "PAYMENT_REJECTED"
	case errors.Is(err, checkout.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, checkout.ErrDuplicateTransaction):
		return http.StatusConflict, "DUPLICATE_TRANSACTION"
	}
	return http.StatusInternalServerError, "INTERNAL"
}
