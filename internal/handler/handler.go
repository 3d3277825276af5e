// Package handler exposes the HTTP API: order lifecycle operations and the
// gateway session operator surface.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/angostura/backend/internal/domain/account"
	"github.com/angostura/backend/internal/domain/order"
	"github.com/angostura/backend/internal/domain/product"
	"github.com/angostura/backend/internal/gateway"
)

// SessionControl is the slice of the gateway session exposed to operators.
type SessionControl interface {
	Status() gateway.Status
	ForceReconnect(ctx context.Context)
}

// Handler routes API requests to the order service and the gateway session.
type Handler struct {
	orders  *order.Service
	session SessionControl
}

// New constructs the Handler.
func New(orders *order.Service, session SessionControl) *Handler {
	return &Handler{orders: orders, session: session}
}

// Register attaches all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("POST /api/orders/{id}/claim", h.claimOrder)
	mux.HandleFunc("POST /api/orders/{id}/dispatch", h.dispatchOrder)
	mux.HandleFunc("POST /api/orders/{id}/deliver", h.deliverOrder)
	mux.HandleFunc("PUT /api/orders/{id}/state", h.setOrderState)

	mux.HandleFunc("GET /api/gateway/status", h.gatewayStatus)
	mux.HandleFunc("POST /api/gateway/reconnect", h.gatewayReconnect)
}

// writeJSON encodes with jx and writes the response.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

// mapOrderError converts a domain error into the HTTP response.
func mapOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		inputErr *order.InvalidInputError
		qtyErr   *order.InvalidQuantityError
		stockErr *order.InsufficientStockError
		confErr  *order.ConflictError
	)
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, account.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrEmptyLines),
		errors.As(err, &inputErr),
		errors.As(err, &qtyErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &stockErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &confErr):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
