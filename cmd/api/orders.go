package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rahil/meatmart/internal/models"
	"github.com/rahil/meatmart/internal/payment"
	"github.com/rahil/meatmart/internal/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

func (a *api) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleCustomer {
		respondError(w, http.StatusForbidden, "customer access required")
		return
	}

	var req struct {
		VendorID       int64  `json:"vendor_id"`
		DeliveryOption string `json:"delivery_option"`
		Items          []struct {
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		} `json:"items"`
		Subtotal float64 `json:"subtotal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var items []store.OrderItemRequest
	for _, item := range req.Items {
		items = append(items, store.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	o, err := store.CreateOrder(r.Context(), a.db, a.policy, store.CreateOrderRequest{
		CustomerID:     actor.ID,
		VendorID:       req.VendorID,
		DeliveryOption: models.DeliveryOption(req.DeliveryOption),
		Items:          items,
		Subtotal:       decimal.NewFromFloat(req.Subtotal),
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// the gateway reports the payment outcome asynchronously through the
	// callback; a failed hand-off leaves payment_status pending
	if err := a.gateway.Charge(r.Context(), payment.Charge{OrderID: o.ID, Amount: o.Total}); err != nil {
		log.WithError(err).WithField("order_id", o.ID).Warn("payment charge hand-off failed")
	}

	respondJSON(w, http.StatusCreated, o)
}

func (a *api) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	o, err := store.GetOrder(r.Context(), a.db, chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if !actor.Admin() && o.CustomerID != actor.ID && o.VendorID != actor.ID {
		respondError(w, http.StatusForbidden, "not your order")
		return
	}

	respondJSON(w, http.StatusOK, o)
}

func (a *api) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListOrdersCursor(r.Context(), a.db, actor, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (a *api) handleTransitionOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	o, err := store.TransitionOrder(r.Context(), a.db, a.notifier,
		chi.URLParam(r, "id"), models.OrderStatus(req.Status), actor, req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, o)
}

func (a *api) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status := models.PaymentStatus(req.Status)
	switch status {
	case models.PaymentStatusPaid, models.PaymentStatusFailed, models.PaymentStatusRefunded:
	default:
		respondError(w, http.StatusBadRequest, "unknown payment status")
		return
	}

	o, err := store.SetPaymentStatus(r.Context(), a.db, req.OrderID, status)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, o)
}
