package main

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rahil/meatmart/internal/auth"
	"github.com/rahil/meatmart/internal/cache"
	"github.com/rahil/meatmart/internal/config"
	"github.com/rahil/meatmart/internal/database"
	"github.com/rahil/meatmart/internal/delivery"
	"github.com/rahil/meatmart/internal/metrics"
	"github.com/rahil/meatmart/internal/notify"
	"github.com/rahil/meatmart/internal/otp"
	"github.com/rahil/meatmart/internal/payment"
	"github.com/rahil/meatmart/internal/pricing"
	"github.com/rahil/meatmart/internal/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type api struct {
	cfg      *config.Config
	db       *sql.DB
	engine   *pricing.Engine
	policy   delivery.Policy
	notifier notify.Notifier
	gateway  payment.Gateway
	otp      otp.Provider
	secret   []byte
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Info("connected to database")

	var c cache.Cache
	if cfg.Redis.Addr != "" {
		c = cache.NewRedis(cfg.Redis.Addr)
		log.WithField("addr", cfg.Redis.Addr).Info("using redis cache")
	} else {
		c = cache.NewMemory()
	}

	deliveryFee, err := decimal.NewFromString(cfg.Delivery.Fee)
	if err != nil {
		log.Fatalf("Parse DELIVERY_FEE: %v", err)
	}
	expressFee, err := decimal.NewFromString(cfg.Delivery.ExpressFee)
	if err != nil {
		log.Fatalf("Parse DELIVERY_EXPRESS_FEE: %v", err)
	}

	app := &api{
		cfg:    cfg,
		db:     db,
		engine: pricing.NewEngine(store.MarginSource{DB: db}, c, cfg.Redis.MarginTTL),
		policy: delivery.NewFlatPolicy(deliveryFee, expressFee),
		secret: []byte(cfg.Auth.JWTSecret),
	}

	if cfg.SMS.WebhookURL != "" {
		app.notifier = notify.NewSMS(cfg.SMS.WebhookURL, cfg.SMS.SenderID)
	} else {
		app.notifier = notify.NewLog()
	}

	if cfg.Payment.Mock {
		app.gateway = payment.NewMock()
	} else {
		app.gateway = payment.NewHTTP(cfg.Payment.GatewayURL, cfg.Payment.Timeout)
	}

	if cfg.OTP.Mode == "static" {
		app.otp = otp.NewStatic(cfg.OTP.StaticCode)
	} else {
		app.otp = otp.NewSMS(cfg.SMS.WebhookURL, c, cfg.OTP.TTL)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.WithField("port", cfg.Server.Port).Info("server starting")
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func (a *api) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/otp", a.handleIssueOTP)
	r.Post("/auth/verify", a.handleVerifyOTP)

	r.Get("/products", a.handleListProducts)
	r.Get("/products/{id}", a.handleGetProduct)
	r.Get("/margins/{category}", a.handleGetMargin)

	// payment providers call back without a session; the mock provider is
	// the only caller in development
	r.Post("/payments/callback", a.handlePaymentCallback)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(a.secret))

		r.Put("/admin/margins/{category}", a.handleSetMargin)
		r.Get("/admin/margins", a.handleListMargins)
		r.Post("/admin/users", a.handleCreateUser)

		r.Post("/vendor/products", a.handleUpsertProduct)

		r.Post("/orders", a.handleCreateOrder)
		r.Get("/orders", a.handleListOrders)
		r.Get("/orders/{id}", a.handleGetOrder)
		r.Post("/orders/{id}/transition", a.handleTransitionOrder)
	})

	return r
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
