package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront-sync/pkg/health"
	"github.com/utafrali/storefront-sync/pkg/middleware"
)

// Services bundles what the routes dispatch to.
type Services struct {
	Cart     CartService
	Wishlist WishlistService
	Session  SessionManager
	Checkout CheckoutMachine
	Counters CounterSource
}

// RouterConfig holds transport settings.
type RouterConfig struct {
	CORS           middleware.CORSConfig
	PprofCIDRs     []string
	RequestTimeout time.Duration
}

// NewRouter creates a chi router with all sidecar routes registered.
func NewRouter(svc Services, healthHandler *health.Handler, logger *slog.Logger, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	cartHandler := NewCartHandler(svc.Cart, svc.Counters, logger)
	wishlistHandler := NewWishlistHandler(svc.Wishlist, svc.Counters, logger)
	sessionHandler := NewSessionHandler(svc.Session, logger)
	checkoutHandler := NewCheckoutHandler(svc.Checkout, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.RequestLogger(logger, sessionHandler.UserID))
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(chimw.Timeout(cfg.RequestTimeout))
		r.Use(ContentTypeJSON)

		r.Get("/counters", cartHandler.Counters)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)

			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{productId}", cartHandler.UpdateItem)
			r.Delete("/items/{productId}", cartHandler.RemoveItem)
			r.Post("/items/{productId}/increment", cartHandler.IncrementItem)
			r.Post("/items/{productId}/decrement", cartHandler.DecrementItem)

			r.Post("/coupon", cartHandler.ApplyCoupon)
			r.Delete("/coupon", cartHandler.RemoveCoupon)
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", wishlistHandler.GetWishlist)
			r.Delete("/", wishlistHandler.ClearWishlist)

			r.Get("/items/{productId}", wishlistHandler.Membership)
			r.Post("/items/{productId}", wishlistHandler.AddItem)
			r.Delete("/items/{productId}", wishlistHandler.RemoveItem)
			r.Post("/items/{productId}/toggle", wishlistHandler.Toggle)
		})

		r.Route("/session", func(r chi.Router) {
			r.Post("/login", sessionHandler.Login)
			r.Post("/logout", sessionHandler.Logout)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", checkoutHandler.GetCheckout)
			r.Post("/", checkoutHandler.Begin)
			r.Delete("/", checkoutHandler.Cancel)

			r.Post("/address", checkoutHandler.SubmitAddress)
			r.Post("/shipping/select", checkoutHandler.SelectShipping)
			r.Post("/shipping/confirm", checkoutHandler.ConfirmShipping)
			r.Post("/back", checkoutHandler.Back)

			r.Post("/payment", checkoutHandler.OpenPayment)
			r.Post("/payment/success", checkoutHandler.PaymentSucceeded)
			r.Post("/payment/dismiss", checkoutHandler.PaymentDismissed)
			r.Post("/payment/reverify", checkoutHandler.ReverifyPayment)
		})
	})

	return r
}
