// Package webhook exposes the subscription confirmation and unsubscribe
// endpoints that digest links point at.
package webhook

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bxtxh/seiji-watch-sub000/internal/token"
	"github.com/bxtxh/seiji-watch-sub000/internal/usecase"
)

// Handler routes subscription lifecycle requests to the manager.
type Handler struct {
	manager *usecase.SubscriptionManager
	logger  *slog.Logger
}

// NewHandler constructs the webhook handler.
func NewHandler(manager *usecase.SubscriptionManager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// Router builds the HTTP routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/subscriptions/confirm", h.confirm).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions/unsubscribe", h.unsubscribe).Methods(http.MethodGet)
	return r
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	if err := h.manager.Confirm(r.Context(), raw); err != nil {
		h.writeTokenError(w, err)
		return
	}
	fmt.Fprintln(w, "Subscription confirmed.")
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	if err := h.manager.Unsubscribe(r.Context(), raw); err != nil {
		h.writeTokenError(w, err)
		return
	}
	fmt.Fprintln(w, "You have been unsubscribed.")
}

func (h *Handler) writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		http.Error(w, "token expired", http.StatusGone)
	case errors.Is(err, token.ErrUsed):
		http.Error(w, "token already used", http.StatusConflict)
	case errors.Is(err, token.ErrInvalid):
		http.Error(w, "token invalid", http.StatusBadRequest)
	default:
		h.logger.Error("subscription request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
