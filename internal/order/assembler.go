// Package order собирает из списка позиций или корзины оцененный черновик заказа.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/gophershop-system/internal/model"
	"github.com/mmeshcher/gophershop-system/internal/repository"
	"github.com/mmeshcher/gophershop-system/internal/validation"
	"github.com/mmeshcher/gophershop-system/internal/voucher"
)

// ErrEmptyCart возвращается при оформлении заказа из пустой корзины.
var (
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidVoucher возвращается, если указанный ваучер не прошёл проверку.
	ErrInvalidVoucher = errors.New("voucher is not applicable")
	// ErrValidation возвращается при некорректных входных данных оформления.
	ErrValidation = errors.New("invalid checkout input")
)

// Catalog — внешний каталог товаров, источник цен и снимков позиций.
type Catalog interface {
	GetVariant(ctx context.Context, variantID int64) (*model.Variant, error)
}

// CartGateway — внешнее хранилище корзин.
type CartGateway interface {
	GetCart(ctx context.Context, customerID int64) ([]model.CartLine, error)
}

// Item — запрошенная позиция заказа.
type Item struct {
	VariantID int64
	Quantity  int
}

// BuildRequest — входные данные сборки черновика.
type BuildRequest struct {
	Items           []Item
	ShippingAddress model.Address
	PaymentMethod   string
	VoucherCode     string
	CustomerID      *int64
	Shipping        int64
	Tax             int64
	Notes           string
}

// Draft — оцененный, ещё не сохранённый заказ. Номер присваивается при фиксации.
type Draft struct {
	Order   model.Order
	Voucher *model.Voucher
}

// Assembler строит черновики заказов. Цены и названия всегда перечитываются из
// каталога: устаревший снимок корзины на итог не влияет.
type Assembler struct {
	catalog  Catalog
	carts    CartGateway
	vouchers *voucher.Engine
}

// NewAssembler создаёт сборщик заказов.
func NewAssembler(catalog Catalog, carts CartGateway, vouchers *voucher.Engine) *Assembler {
	return &Assembler{catalog: catalog, carts: carts, vouchers: vouchers}
}

// BuildFromItems строит черновик из явного списка позиций (гостевое оформление).
func (a *Assembler) BuildFromItems(ctx context.Context, req BuildRequest) (*Draft, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrValidation)
	}
	if req.PaymentMethod == "" {
		return nil, fmt.Errorf("%w: payment method required", ErrValidation)
	}
	if req.Shipping < 0 || req.Tax < 0 {
		return nil, fmt.Errorf("%w: shipping and tax must not be negative", ErrValidation)
	}
	if !validation.IsValidAddress(req.ShippingAddress) {
		return nil, fmt.Errorf("%w: incomplete shipping address", ErrValidation)
	}

	draft := &Draft{
		Order: model.Order{
			CustomerID:      req.CustomerID,
			Shipping:        req.Shipping,
			Tax:             req.Tax,
			Status:          model.OrderStatusPending,
			PaymentMethod:   req.PaymentMethod,
			PaymentStatus:   model.PaymentStatusPending,
			ShippingAddress: req.ShippingAddress,
			Notes:           req.Notes,
			Unread:          true,
		},
	}

	for _, item := range req.Items {
		if !validation.IsValidQuantity(item.Quantity) {
			return nil, fmt.Errorf("%w: quantity for variant %d must be positive", ErrValidation, item.VariantID)
		}

		line, err := a.buildLine(ctx, item)
		if err != nil {
			return nil, err
		}

		draft.Order.Lines = append(draft.Order.Lines, *line)
		draft.Order.Subtotal += line.UnitPrice * int64(line.Quantity)
	}

	if err := a.applyVoucher(ctx, draft, req.VoucherCode, req.CustomerID); err != nil {
		return nil, err
	}

	draft.Order.Total = draft.Order.Subtotal + draft.Order.Shipping + draft.Order.Tax - draft.Order.Discount
	return draft, nil
}

// BuildFromCart строит черновик из корзины покупателя. Каждая строка проходит
// ту же проверку, что и при явном списке позиций.
func (a *Assembler) BuildFromCart(ctx context.Context, customerID int64, req BuildRequest) (*Draft, error) {
	lines, err := a.carts.GetCart(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, Item{VariantID: l.VariantID, Quantity: l.Quantity})
	}

	req.Items = items
	req.CustomerID = &customerID
	return a.BuildFromItems(ctx, req)
}

// buildLine снимает с каталога снимок позиции: название, цену и изображение на
// момент оформления. Проверка остатка здесь предварительная; обязательной
// является условное списание при фиксации заказа.
func (a *Assembler) buildLine(ctx context.Context, item Item) (*model.OrderLine, error) {
	v, err := a.catalog.GetVariant(ctx, item.VariantID)
	if err != nil {
		return nil, err
	}
	if !v.IsActive {
		return nil, fmt.Errorf("%w: variant %d", repository.ErrVariantInactive, item.VariantID)
	}
	if item.Quantity > v.Stock {
		return nil, fmt.Errorf("%w: variant %d has %d, requested %d", repository.ErrInsufficientStock, item.VariantID, v.Stock, item.Quantity)
	}

	return &model.OrderLine{
		VariantID:   v.ID,
		ProductID:   v.ProductID,
		ProductName: v.ProductName,
		VariantName: v.Name,
		UnitPrice:   v.Price,
		Quantity:    item.Quantity,
		ImageRef:    v.ImageRef,
	}, nil
}

// applyVoucher проверяет ваучер против подытога и вычитает скидку.
// Непройденная проверка обрывает сборку черновика целиком.
func (a *Assembler) applyVoucher(ctx context.Context, draft *Draft, code string, customerID *int64) error {
	if code == "" {
		return nil
	}

	res, err := a.vouchers.Validate(ctx, code, draft.Order.Subtotal, customerID)
	if err != nil {
		return fmt.Errorf("validate voucher: %w", err)
	}
	if !res.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidVoucher, res.Reason)
	}

	draft.Order.Discount = res.Discount
	draft.Voucher = res.Voucher
	return nil
}
