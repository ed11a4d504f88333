// Package httpapi exposes the stock and order operations over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/bakery-inventory/internal/domain/auth"
	"github.com/xenking/bakery-inventory/internal/domain/cleanup"
	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
	"github.com/xenking/bakery-inventory/internal/payment"
)

// Checkout opens gateway checkouts for orders.
type Checkout interface {
	CreatePreference(ctx context.Context, req payment.PreferenceRequest) (*payment.Preference, error)
}

// PaymentProcessor applies verified webhook notifications.
type PaymentProcessor interface {
	Process(ctx context.Context, n payment.Notification) (*payment.Result, error)
}

// Sweeper runs one maintenance pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) cleanup.SweepResult
}

// Deps are the services behind the API. Checkout, Payments and Verifier may
// be nil when no gateway is configured; the payment routes then answer 503.
type Deps struct {
	Products     product.Repository
	Ledger       *stock.Ledger
	Reservations *stock.Reservations
	Validator    *stock.Validator
	Orders       *order.Service
	Tokens       *auth.Tokens
	Sweeper      Sweeper
	Checkout     Checkout
	Payments     PaymentProcessor
	Verifier     *payment.Verifier
}

// Config holds non-dependency settings.
type Config struct {
	// PublicURL is the externally reachable base of this API, used for the
	// gateway's notification and return URLs.
	PublicURL string
}

// Server implements the API routes.
type Server struct {
	Deps
	cfg      Config
	validate *validator.Validate
}

// New creates a Server.
func New(deps Deps, cfg Config) (*Server, error) {
	switch {
	case deps.Products == nil:
		return nil, errors.New("products repository is required")
	case deps.Ledger == nil, deps.Reservations == nil, deps.Validator == nil:
		return nil, errors.New("stock services are required")
	case deps.Orders == nil:
		return nil, errors.New("order service is required")
	case deps.Tokens == nil:
		return nil, errors.New("token verifier is required")
	case deps.Sweeper == nil:
		return nil, errors.New("sweeper is required")
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		Deps:     deps,
		cfg:      cfg,
		validate: v,
	}, nil
}

// Register mounts every API route on r.
func (s *Server) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/payments", s.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Route("/stock", func(r chi.Router) {
				r.Post("/reservations", s.reserve)
				r.Delete("/reservations/{sessionID}", s.release)
				r.Get("/products/{id}/available", s.available)
				r.Post("/validate", s.validateStock)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireUser)
				r.Post("/orders", s.createOrder)
				r.Get("/orders/{id}", s.getOrder)
				r.Post("/orders/{id}/submit", s.submitOrder)
				r.Put("/orders/{id}/items", s.modifyItems)
				r.Post("/orders/{id}/cancel", s.cancelOrder)
				r.Post("/orders/{id}/bank-transfer", s.requestBankTransfer)
				r.Post("/orders/{id}/checkout", s.checkout)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Put("/products/{id}/stock", s.setStock)
				r.Post("/products/{id}/movements", s.applyMovement)
				r.Get("/products/{id}/movements", s.history)
				r.Put("/orders/{id}/status", s.advanceOrder)
				r.Post("/maintenance/sweep", s.sweep)
			})
		})
	})
}

// Handler returns a router with only the API routes, for tests and for
// embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return r
}
