package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mmeshcher/gophershop-system/internal/metrics"
	custommiddleware "github.com/mmeshcher/gophershop-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина гофершоп.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		// Гостевые маршруты: авторизация необязательна, но учитывается
		// при проверке ваучера.
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.OptionalMiddleware)

			r.Post("/checkout", h.Checkout)
			r.Post("/vouchers/validate", h.ValidateVoucher)
		})

		r.Get("/orders/{orderID}", h.GetOrder)
		r.Get("/stock/{variantID}", h.CheckAvailability)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/user/checkout", h.CheckoutFromCart)
			r.Post("/admin/stock", h.AdjustStock)
		})
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
