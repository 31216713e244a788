// Package checkout реализует оркестрацию оформления заказа: сборку черновика,
// списание остатков, погашение ваучера и фиксацию заказа как единое целое.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophershop-system/internal/metrics"
	"github.com/mmeshcher/gophershop-system/internal/model"
	"github.com/mmeshcher/gophershop-system/internal/order"
	"github.com/mmeshcher/gophershop-system/internal/repository"
	"github.com/mmeshcher/gophershop-system/internal/voucher"
)

// Число попыток фиксации при коллизии номера заказа.
const maxNumberAttempts = 3

// Repository описывает контракт хранилища, используемый оркестратором.
// PlaceOrder обязан выполнять списание остатков, вставку заказа, погашение
// ваучера и очистку корзины в одной транзакции.
type Repository interface {
	PlaceOrder(ctx context.Context, order *model.Order, voucherID *int64, clearCartCustomerID *int64) (int64, error)
	GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error)
}

// Notifier уведомляет внешнюю систему о созданном заказе.
type Notifier interface {
	OrderCreated(ctx context.Context, order *model.Order) error
}

// Request — входные данные оформления заказа.
type Request struct {
	Items           []order.Item
	ShippingAddress model.Address
	PaymentMethod   string
	VoucherCode     string
	Shipping        int64
	Tax             int64
	Notes           string
}

// Service — точка входа оформления заказов.
type Service struct {
	repo      Repository
	assembler *order.Assembler
	vouchers  *voucher.Engine
	notifier  Notifier
	metrics   *metrics.CheckoutMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService создаёт оркестратор оформления. Notifier и metrics необязательны.
func NewService(repo Repository, assembler *order.Assembler, vouchers *voucher.Engine, notifier Notifier, m *metrics.CheckoutMetrics, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		assembler: assembler,
		vouchers:  vouchers,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Checkout оформляет заказ из явного списка позиций. Гостевой путь:
// покупатель в заказе не фиксируется.
func (s *Service) Checkout(ctx context.Context, req Request) (*model.Order, error) {
	draft, err := s.assembler.BuildFromItems(ctx, order.BuildRequest{
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		VoucherCode:     req.VoucherCode,
		Shipping:        req.Shipping,
		Tax:             req.Tax,
		Notes:           req.Notes,
	})
	if err != nil {
		s.countResult(err)
		return nil, err
	}

	return s.commit(ctx, draft, nil)
}

// CheckoutFromCart оформляет заказ из корзины покупателя. Корзина очищается в
// той же транзакции, что и заказ: неудачное оформление корзину не трогает.
func (s *Service) CheckoutFromCart(ctx context.Context, customerID int64, req Request) (*model.Order, error) {
	draft, err := s.assembler.BuildFromCart(ctx, customerID, order.BuildRequest{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		VoucherCode:     req.VoucherCode,
		Shipping:        req.Shipping,
		Tax:             req.Tax,
		Notes:           req.Notes,
	})
	if err != nil {
		s.countResult(err)
		return nil, err
	}

	return s.commit(ctx, draft, &customerID)
}

// ValidateVoucher — предпросмотр ваучера без побочных эффектов.
func (s *Service) ValidateVoucher(ctx context.Context, code string, orderValue int64, customerID *int64) (*voucher.ValidationResult, error) {
	return s.vouchers.Validate(ctx, code, orderValue, customerID)
}

// GetOrder возвращает заказ для страницы подтверждения.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

// commit присваивает черновику номер и фиксирует его в хранилище. Коллизия
// номера — внутреннее ретраябельное событие; все остальные отказы означают,
// что оформление не оставило следов.
func (s *Service) commit(ctx context.Context, draft *order.Draft, clearCartCustomerID *int64) (*model.Order, error) {
	o := draft.Order

	var voucherID *int64
	if draft.Voucher != nil {
		voucherID = &draft.Voucher.ID
	}

	backoff := retry.WithMaxRetries(maxNumberAttempts, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		o.Number = order.NewOrderNumber(s.now())
		_, err := s.repo.PlaceOrder(ctx, &o, voucherID, clearCartCustomerID)
		if errors.Is(err, repository.ErrOrderNumberConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		s.countResult(err)
		if errors.Is(err, repository.ErrOrderNumberConflict) {
			return nil, fmt.Errorf("order number attempts exhausted: %w", err)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Checkouts.WithLabelValues("ok").Inc()
		if voucherID != nil {
			s.metrics.VoucherRedemptions.Inc()
		}
	}

	s.logger.Info("order placed",
		zap.String("number", o.Number),
		zap.Int64("total", o.Total),
		zap.Int("lines", len(o.Lines)))

	if s.notifier != nil {
		// После фиксации заказа: срыв уведомления на результат не влияет.
		go func(placed model.Order) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := s.notifier.OrderCreated(ctx, &placed); err != nil {
				s.logger.Warn("order notification failed", zap.String("number", placed.Number), zap.Error(err))
			}
		}(o)
	}

	return &o, nil
}

func (s *Service) countResult(err error) {
	if s.metrics == nil {
		return
	}

	switch {
	case errors.Is(err, repository.ErrInsufficientStock):
		s.metrics.Checkouts.WithLabelValues("insufficient_stock").Inc()
		s.metrics.StockRejections.Inc()
	case errors.Is(err, order.ErrInvalidVoucher),
		errors.Is(err, repository.ErrVoucherExhausted),
		errors.Is(err, repository.ErrVoucherExhaustedPerUser):
		s.metrics.Checkouts.WithLabelValues("invalid_voucher").Inc()
	case errors.Is(err, order.ErrEmptyCart), errors.Is(err, order.ErrValidation),
		errors.Is(err, repository.ErrVariantNotFound), errors.Is(err, repository.ErrVariantInactive):
		s.metrics.Checkouts.WithLabelValues("rejected").Inc()
	default:
		s.metrics.Checkouts.WithLabelValues("error").Inc()
	}
}
