package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rahil/meatmart/internal/auth"
	"github.com/rahil/meatmart/internal/database"
	"github.com/rahil/meatmart/internal/models"
	"github.com/rahil/meatmart/internal/order"
	"github.com/rahil/meatmart/internal/pricing"
	"github.com/rahil/meatmart/internal/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("encode json response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps core error kinds onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pricing.ErrMarginNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pricing.ErrMarginInactive),
		errors.Is(err, order.ErrTotalsMismatch):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrInvalidPaymentTransition),
		errors.Is(err, database.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrActorNotAllowed):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, pricing.ErrInvalidPercentage),
		errors.Is(err, database.ErrProductInactive):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithError(err).Error("internal error")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func actorOrAbort(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "no actor in context")
	}
	return actor, ok
}

func (a *api) handleIssueOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := a.otp.Issue(r.Context(), req.Phone); err != nil {
		log.WithError(err).Warn("otp issue failed")
		respondError(w, http.StatusBadGateway, "could not send otp")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (a *api) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !a.otp.Verify(r.Context(), req.Phone, req.Code) {
		respondError(w, http.StatusUnauthorized, "invalid code")
		return
	}

	ctx := r.Context()
	user, err := store.GetUserByPhone(ctx, a.db, req.Phone)
	if errors.Is(err, database.ErrUserNotFound) {
		user, err = store.CreateUser(ctx, a.db, req.Phone, req.Name, models.RoleCustomer)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}

	token, err := auth.NewToken(a.secret, models.Actor{ID: user.ID, Role: user.Role}, a.cfg.Auth.TokenTTL)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"token": token, "user": user})
}

func (a *api) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	if !actor.Admin() {
		respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	var req struct {
		Phone string      `json:"phone"`
		Name  string      `json:"name"`
		Role  models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch req.Role {
	case models.RoleCustomer, models.RoleVendor, models.RoleAdmin:
	case models.RoleSuperAdmin:
		if actor.Role != models.RoleSuperAdmin {
			respondError(w, http.StatusForbidden, "super admin access required")
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "unknown role")
		return
	}

	user, err := store.CreateUser(r.Context(), a.db, req.Phone, req.Name, req.Role)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (a *api) handleSetMargin(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	if !actor.Admin() {
		respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	category := chi.URLParam(r, "category")

	var req struct {
		MarginPercentage float64 `json:"margin_percentage"`
		Active           bool    `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	margin, err := store.SetCategoryMargin(r.Context(), a.db, category,
		decimal.NewFromFloat(req.MarginPercentage), req.Active)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if err := a.engine.Invalidate(r.Context(), category); err != nil {
		log.WithError(err).WithField("category", category).Warn("margin cache invalidation failed")
	}

	respondJSON(w, http.StatusOK, margin)
}

func (a *api) handleGetMargin(w http.ResponseWriter, r *http.Request) {
	margin, err := store.GetCategoryMargin(r.Context(), a.db, chi.URLParam(r, "category"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, margin)
}

func (a *api) handleListMargins(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	if !actor.Admin() {
		respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	margins, err := store.ListCategoryMargins(r.Context(), a.db)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, margins)
}

func (a *api) handleUpsertProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleVendor && !actor.Admin() {
		respondError(w, http.StatusForbidden, "vendor access required")
		return
	}

	var req struct {
		VendorID    int64   `json:"vendor_id"`
		ProductCode string  `json:"product_code"`
		Name        string  `json:"name"`
		Category    string  `json:"category"`
		VendorPrice float64 `json:"vendor_price"`
		Active      bool    `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	vendorID := actor.ID
	if actor.Admin() && req.VendorID != 0 {
		vendorID = req.VendorID
	}

	product, err := store.UpsertVendorProduct(r.Context(), a.db, a.engine, store.UpsertVendorProductRequest{
		VendorID:    vendorID,
		ProductCode: req.ProductCode,
		Name:        req.Name,
		Category:    req.Category,
		VendorPrice: decimal.NewFromFloat(req.VendorPrice),
		Active:      req.Active,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

func (a *api) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := store.ListVendorProducts(r.Context(), a.db, page, pageSize)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (a *api) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	product, err := store.GetVendorProduct(r.Context(), a.db, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}
