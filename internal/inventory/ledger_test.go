package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/mmeshcher/gophershop-system/internal/model"
	"github.com/mmeshcher/gophershop-system/internal/repository"
)

type stubRepo struct {
	variant    *model.Variant
	variantErr error

	decrementRemaining int
	decrementErr       error

	incrementRemaining int
	incrementErr       error

	setErr       error
	setVariantID int64
	setValue     int
}

func (s *stubRepo) GetVariant(ctx context.Context, variantID int64) (*model.Variant, error) {
	return s.variant, s.variantErr
}

func (s *stubRepo) DecrementStock(ctx context.Context, variantID int64, quantity int) (int, error) {
	return s.decrementRemaining, s.decrementErr
}

func (s *stubRepo) IncrementStock(ctx context.Context, variantID int64, quantity int) (int, error) {
	return s.incrementRemaining, s.incrementErr
}

func (s *stubRepo) SetStock(ctx context.Context, variantID int64, value int) error {
	s.setVariantID = variantID
	s.setValue = value
	return s.setErr
}

func TestCheckAvailability(t *testing.T) {
	tests := []struct {
		name     string
		stock    int
		lowAt    int
		quantity int
		want     Availability
	}{
		{name: "enough stock", stock: 5, quantity: 3, want: Availability{Available: true, CurrentStock: 5}},
		{name: "exact stock", stock: 3, quantity: 3, want: Availability{Available: true, CurrentStock: 3}},
		{name: "not enough", stock: 2, quantity: 3, want: Availability{Available: false, CurrentStock: 2}},
		{name: "low stock", stock: 2, lowAt: 3, quantity: 1, want: Availability{Available: true, CurrentStock: 2, LowStock: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{variant: &model.Variant{ID: 1, Stock: tt.stock, LowStockThreshold: tt.lowAt, IsActive: true}}
			l := NewLedger(repo)

			av, err := l.CheckAvailability(context.Background(), 1, tt.quantity)
			if err != nil {
				t.Fatalf("CheckAvailability error: %v", err)
			}
			if *av != tt.want {
				t.Fatalf("availability = %+v, want %+v", *av, tt.want)
			}
		})
	}
}

func TestCheckAvailability_InactiveVariant(t *testing.T) {
	repo := &stubRepo{variant: &model.Variant{ID: 1, Stock: 5, IsActive: false}}
	l := NewLedger(repo)

	_, err := l.CheckAvailability(context.Background(), 1, 1)
	if !errors.Is(err, repository.ErrVariantInactive) {
		t.Fatalf("err = %v, want ErrVariantInactive", err)
	}
}

func TestCheckAvailability_InvalidQuantity(t *testing.T) {
	l := NewLedger(&stubRepo{})

	_, err := l.CheckAvailability(context.Background(), 1, 0)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
}

func TestDecrement_InsufficientStockIsNotAnError(t *testing.T) {
	repo := &stubRepo{
		decrementRemaining: 2,
		decrementErr:       repository.ErrInsufficientStock,
	}
	l := NewLedger(repo)

	res, err := l.Decrement(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("Decrement error: %v", err)
	}
	if res.OK {
		t.Fatalf("expected OK=false for insufficient stock")
	}
	if res.RemainingStock != 2 {
		t.Fatalf("remaining = %d, want 2", res.RemainingStock)
	}
}

func TestDecrement_Success(t *testing.T) {
	repo := &stubRepo{decrementRemaining: 3}
	l := NewLedger(repo)

	res, err := l.Decrement(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("Decrement error: %v", err)
	}
	if !res.OK || res.RemainingStock != 3 {
		t.Fatalf("result = %+v, want OK with remaining 3", res)
	}
}

func TestDecrement_NotFoundPropagates(t *testing.T) {
	repo := &stubRepo{decrementErr: repository.ErrVariantNotFound}
	l := NewLedger(repo)

	_, err := l.Decrement(context.Background(), 1, 2)
	if !errors.Is(err, repository.ErrVariantNotFound) {
		t.Fatalf("err = %v, want ErrVariantNotFound", err)
	}
}

func TestAdjustAbsolute_RejectsNegative(t *testing.T) {
	l := NewLedger(&stubRepo{})

	err := l.AdjustAbsolute(context.Background(), 1, -1)
	if !errors.Is(err, repository.ErrNegativeStock) {
		t.Fatalf("err = %v, want ErrNegativeStock", err)
	}
}

func TestAdjustAbsolute_PassesValue(t *testing.T) {
	repo := &stubRepo{}
	l := NewLedger(repo)

	if err := l.AdjustAbsolute(context.Background(), 9, 15); err != nil {
		t.Fatalf("AdjustAbsolute error: %v", err)
	}
	if repo.setVariantID != 9 || repo.setValue != 15 {
		t.Fatalf("SetStock called with (%d, %d), want (9, 15)", repo.setVariantID, repo.setValue)
	}
}

func TestIncrement_InvalidQuantity(t *testing.T) {
	l := NewLedger(&stubRepo{})

	_, err := l.Increment(context.Background(), 1, 0)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
}
