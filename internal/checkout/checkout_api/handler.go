package checkout_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/checkout"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

type Handler struct {
	Service *checkout.Service
	Logger  *logger.Logger
}

func NewHandler(service *checkout.Service, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/checkout", func(r chi.Router) {
		r.Post("/", h.SubmitCheckout)
		r.Get("/{sessionId}", h.GetSession)
		r.Post("/{sessionId}/verify", h.VerifyPayment)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Get("/{orderId}", h.GetOrder)
	})
}

func (h *Handler) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("SubmitCheckout: user=%s", userID))

	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("SubmitCheckout: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	session, err := h.Service.SubmitCheckout(r.Context(), userID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("SubmitCheckout: %v", err))
		switch {
		case errors.Is(err, checkout.ErrCartEmpty), errors.Is(err, checkout.ErrDiscountInvalid):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "Could not create checkout session", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(session); err != nil {
		h.Logger.Error("API", fmt.Sprintf("SubmitCheckout: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("SubmitCheckout: session %s created", session.SessionID))
}

// VerifyPayment is the single externally-facing reconciliation operation.
// It always answers with a definitive paid/failed outcome.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("VerifyPayment: session=%s user=%s", sessionID, userID))

	var req models.VerifyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Logger.Error("API", fmt.Sprintf("VerifyPayment: failed to decode request body: %v", err))
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	req.SessionID = sessionID
	req.UserID = userID

	result, err := h.Service.Verify(r.Context(), req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("VerifyPayment: %v", err))
		switch {
		case errors.Is(err, checkout.ErrSessionNotFound):
			http.Error(w, "Checkout session not found", http.StatusNotFound)
		case errors.Is(err, checkout.ErrUnauthorized):
			// Fail closed; leak nothing about the session.
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			http.Error(w, "Payment verification failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.Logger.Error("API", fmt.Sprintf("VerifyPayment: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("VerifyPayment: session %s resolved to %s", sessionID, result.PaymentStatus))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("GetSession: session=%s user=%s", sessionID, userID))

	session, err := h.Service.GetSession(r.Context(), userID, sessionID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSession: %v", err))
		switch {
		case errors.Is(err, checkout.ErrSessionNotFound):
			http.Error(w, "Checkout session not found", http.StatusNotFound)
		case errors.Is(err, checkout.ErrUnauthorized):
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			http.Error(w, "Could not load checkout session", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(session); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSession: failed to encode response: %v", err))
	}
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("GetOrder: order=%s user=%s", orderID, userID))

	order, err := h.Service.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: %v", err))
		switch {
		case errors.Is(err, checkout.ErrOrderNotFound):
			http.Error(w, "Order not found", http.StatusNotFound)
		case errors.Is(err, checkout.ErrUnauthorized):
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			http.Error(w, "Could not load order", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(order); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: failed to encode response: %v", err))
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("ListOrders: user=%s", userID))

	orders, err := h.Service.ListOrders(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListOrders: %v", err))
		http.Error(w, "Could not list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(orders); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListOrders: failed to encode response: %v", err))
	}
}
