// Package inventory реализует инвентарный реестр: учёт остатков товарных позиций.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/gophershop-system/internal/model"
	"github.com/mmeshcher/gophershop-system/internal/repository"
)

// ErrInvalidQuantity возвращается при неположительном количестве в запросе.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// Repository описывает контракт доступа к данным, используемый реестром.
type Repository interface {
	GetVariant(ctx context.Context, variantID int64) (*model.Variant, error)
	DecrementStock(ctx context.Context, variantID int64, quantity int) (int, error)
	IncrementStock(ctx context.Context, variantID int64, quantity int) (int, error)
	SetStock(ctx context.Context, variantID int64, value int) error
}

// Ledger — единственная точка изменения остатков. Все операции опираются на
// атомарные условные обновления в хранилище.
type Ledger struct {
	repo Repository
}

// NewLedger создаёт инвентарный реестр поверх репозитория.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Availability — результат проверки доступности позиции.
type Availability struct {
	Available    bool
	CurrentStock int
	LowStock     bool
}

// CheckAvailability проверяет, достаточно ли остатка для запрошенного количества.
// Результат носит справочный характер: право на списание даёт только Decrement.
func (l *Ledger) CheckAvailability(ctx context.Context, variantID int64, quantity int) (*Availability, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	v, err := l.repo.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if !v.IsActive {
		return nil, fmt.Errorf("%w: variant %d", repository.ErrVariantInactive, variantID)
	}

	return &Availability{
		Available:    v.Stock >= quantity,
		CurrentStock: v.Stock,
		LowStock:     v.Stock <= v.LowStockThreshold,
	}, nil
}

// DecrementResult — результат списания остатка.
type DecrementResult struct {
	OK             bool
	RemainingStock int
}

// Decrement списывает остаток при продаже. Недостаток остатка — ожидаемый
// исход: возвращается OK=false без ошибки, состояние склада не меняется.
func (l *Ledger) Decrement(ctx context.Context, variantID int64, quantity int) (*DecrementResult, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	remaining, err := l.repo.DecrementStock(ctx, variantID, quantity)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			return &DecrementResult{OK: false, RemainingStock: remaining}, nil
		}
		return nil, err
	}

	return &DecrementResult{OK: true, RemainingStock: remaining}, nil
}

// Increment увеличивает остаток при возврате, отмене или пополнении склада.
// Верхней границы у остатка нет.
func (l *Ledger) Increment(ctx context.Context, variantID int64, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	return l.repo.IncrementStock(ctx, variantID, quantity)
}

// AdjustAbsolute устанавливает остаток в абсолютное значение (ручная корректировка
// администратора). Отрицательные значения отклоняются.
func (l *Ledger) AdjustAbsolute(ctx context.Context, variantID int64, value int) error {
	if value < 0 {
		return repository.ErrNegativeStock
	}
	return l.repo.SetStock(ctx, variantID, value)
}
