// Package voucher реализует проверку применимости ваучеров и расчёт скидки.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/gophershop-system/internal/model"
	"github.com/mmeshcher/gophershop-system/internal/repository"
	"github.com/mmeshcher/gophershop-system/internal/validation"
)

// Reason объясняет, почему ваучер не прошёл проверку.
type Reason string

const (
	ReasonNotFound         Reason = "NOT_FOUND"
	ReasonInactive         Reason = "INACTIVE"
	ReasonNotYetValid      Reason = "NOT_YET_VALID"
	ReasonExpired          Reason = "EXPIRED"
	ReasonExhaustedGlobal  Reason = "EXHAUSTED_GLOBAL"
	ReasonRequiresAuth     Reason = "REQUIRES_AUTH"
	ReasonExhaustedPerUser Reason = "EXHAUSTED_PER_USER"
	ReasonBelowMinimum     Reason = "BELOW_MINIMUM"
)

// ValidationResult — итог проверки ваучера. При Valid=false поле Reason
// содержит первую непройденную проверку.
type ValidationResult struct {
	Valid    bool
	Discount int64
	Reason   Reason
	Voucher  *model.Voucher
}

// Repository описывает контракт доступа к данным, используемый движком ваучеров.
type Repository interface {
	GetVoucherByCode(ctx context.Context, code string) (*model.Voucher, error)
	CountVoucherUsageByCustomer(ctx context.Context, voucherID, customerID int64) (int, error)
}

// Engine проверяет ваучеры и считает скидку. Сам счётчик погашений движок не
// меняет: погашение фиксируется в той же транзакции, что и заказ.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine создаёт движок ваучеров поверх репозитория.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Validate проверяет ваучер против суммы заказа и покупателя. Проверки идут в
// фиксированном порядке и обрываются на первой непройденной. Счётчики при этом
// не меняются — Validate безопасно вызывать для предпросмотра.
//
// Флаг FirstPurchaseOnly сознательно не проверяется: семантика "первой покупки"
// не определена (см. DESIGN.md).
func (e *Engine) Validate(ctx context.Context, code string, orderValue int64, customerID *int64) (*ValidationResult, error) {
	v, err := e.repo.GetVoucherByCode(ctx, validation.NormalizeVoucherCode(code))
	if err != nil {
		if errors.Is(err, repository.ErrVoucherNotFound) {
			return &ValidationResult{Reason: ReasonNotFound}, nil
		}
		return nil, fmt.Errorf("lookup voucher: %w", err)
	}

	if v.Status != model.VoucherStatusActive {
		return &ValidationResult{Reason: ReasonInactive, Voucher: v}, nil
	}

	now := e.now()
	if v.StartDate != nil && now.Before(*v.StartDate) {
		return &ValidationResult{Reason: ReasonNotYetValid, Voucher: v}, nil
	}
	if v.EndDate != nil && now.After(*v.EndDate) {
		return &ValidationResult{Reason: ReasonExpired, Voucher: v}, nil
	}

	if v.UsageLimit != nil && v.UsageCount >= *v.UsageLimit {
		return &ValidationResult{Reason: ReasonExhaustedGlobal, Voucher: v}, nil
	}

	if v.AuthenticatedOnly && customerID == nil {
		return &ValidationResult{Reason: ReasonRequiresAuth, Voucher: v}, nil
	}

	if v.UsageLimitPerUser != nil && customerID != nil {
		used, err := e.repo.CountVoucherUsageByCustomer(ctx, v.ID, *customerID)
		if err != nil {
			return nil, fmt.Errorf("count customer usage: %w", err)
		}
		if used >= *v.UsageLimitPerUser {
			return &ValidationResult{Reason: ReasonExhaustedPerUser, Voucher: v}, nil
		}
	}

	if v.MinOrderValue != nil && orderValue < *v.MinOrderValue {
		return &ValidationResult{Reason: ReasonBelowMinimum, Voucher: v}, nil
	}

	return &ValidationResult{
		Valid:    true,
		Discount: ComputeDiscount(v, orderValue),
		Voucher:  v,
	}, nil
}

// ComputeDiscount считает скидку по правилам ваучера. Для процентного типа
// скидка ограничивается MaxDiscount, для любого типа — суммой заказа.
// Деньги целочисленные, округление вниз до минимальной единицы валюты.
func ComputeDiscount(v *model.Voucher, orderValue int64) int64 {
	var discount int64
	switch v.Type {
	case model.DiscountPercentage:
		discount = orderValue * v.Value / 100
		if v.MaxDiscount != nil && discount > *v.MaxDiscount {
			discount = *v.MaxDiscount
		}
	case model.DiscountFixed:
		discount = v.Value
	}

	if discount > orderValue {
		discount = orderValue
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
