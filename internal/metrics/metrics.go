// Package metrics содержит счётчики Prometheus для операций оформления заказа.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckoutMetrics — счётчики исходов оформления заказов.
type CheckoutMetrics struct {
	Checkouts          *prometheus.CounterVec
	VoucherRedemptions prometheus.Counter
	StockRejections    prometheus.Counter
}

// NewCheckoutMetrics создаёт и регистрирует счётчики в реестре по умолчанию.
func NewCheckoutMetrics() *CheckoutMetrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gophershop",
		Subsystem: "checkout",
		Name:      "attempts_total",
		Help:      "Total number of checkout attempts by result.",
	}, []string{"result"})
	redemptions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gophershop",
		Subsystem: "checkout",
		Name:      "voucher_redemptions_total",
		Help:      "Total number of voucher redemptions recorded with orders.",
	})
	rejections := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gophershop",
		Subsystem: "checkout",
		Name:      "stock_rejections_total",
		Help:      "Total number of checkouts rejected for insufficient stock.",
	})

	prometheus.MustRegister(checkouts, redemptions, rejections)
	return &CheckoutMetrics{
		Checkouts:          checkouts,
		VoucherRedemptions: redemptions,
		StockRejections:    rejections,
	}
}

// Handler возвращает HTTP-обработчик экспорта метрик.
func Handler() http.Handler {
	return promhttp.Handler()
}
