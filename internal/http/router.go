package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func NewRouter(h *CartHandler, logger *zap.Logger, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Use(OwnerMiddleware)
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddItem)
			r.Patch("/items/{itemID}", h.UpdateItem)
			r.Delete("/items/{itemID}", h.RemoveItem)
			r.Post("/coupons", h.ApplyCoupon)
			r.Delete("/coupons/{couponID}", h.RemoveCoupon)
			r.Put("/shipping", h.SetShipping)
			r.Get("/validation", h.Validate)
			r.Post("/merge", h.Merge)
		})
		r.Get("/rates/{from}/{to}", h.GetRate)
		r.Get("/format", h.FormatPrice)
	})

	return otelhttp.NewHandler(r, "cart-pricing-service")
}
