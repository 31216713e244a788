// Package model содержит доменные сущности магазина гофершоп.
//
// Все денежные значения хранятся в минимальных единицах валюты (int64),
// дробные суммы в этом домене не существуют.
package model

import "time"

// User представляет зарегистрированного покупателя.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Variant описывает товарную позицию (SKU) со своим остатком и ценой.
// Остаток меняется только через операции инвентарного реестра.
type Variant struct {
	ID                int64
	ProductID         int64
	ProductName       string
	Name              string
	Price             int64
	Stock             int
	LowStockThreshold int
	IsActive          bool
	ImageRef          string
}

// DiscountType определяет способ расчёта скидки ваучера.
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// VoucherStatus описывает статус ваучера.
type VoucherStatus string

const (
	VoucherStatusActive   VoucherStatus = "ACTIVE"
	VoucherStatusInactive VoucherStatus = "INACTIVE"
	VoucherStatusExpired  VoucherStatus = "EXPIRED"
)

// Voucher описывает скидочный код с правилами применимости и лимитами.
// Счётчик UsageCount монотонно растёт и меняется только при фиксации заказа.
type Voucher struct {
	ID                int64
	Code              string
	Type              DiscountType
	Value             int64
	MinOrderValue     *int64
	MaxDiscount       *int64
	UsageLimit        *int
	UsageLimitPerUser *int
	StartDate         *time.Time
	EndDate           *time.Time
	AuthenticatedOnly bool
	// FirstPurchaseOnly принимается и хранится, но при валидации не проверяется.
	FirstPurchaseOnly bool
	UsageCount        int
	Status            VoucherStatus
}

// VoucherUsage — неизменяемая запись об одном погашении ваучера.
type VoucherUsage struct {
	ID         int64
	VoucherID  int64
	CustomerID *int64
	OrderID    int64
	Discount   int64
	CreatedAt  time.Time
}

// OrderStatus описывает этап жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipping   OrderStatus = "SHIPPING"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Address — снимок адреса доставки, зафиксированный на момент оформления.
type Address struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	Line       string `json:"line"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
}

// OrderLine — снимок позиции заказа. Название, цена и изображение
// фиксируются на момент оформления и не зависят от дальнейших
// изменений каталога.
type OrderLine struct {
	VariantID   int64
	ProductID   int64
	ProductName string
	VariantName string
	UnitPrice   int64
	Quantity    int
	ImageRef    string
}

// Order — агрегат заказа. Состав и суммы неизменны после создания;
// администратор может менять только статус, статус оплаты и флаг Unread.
type Order struct {
	ID              int64
	Number          string
	CustomerID      *int64
	Lines           []OrderLine
	Subtotal        int64
	Shipping        int64
	Tax             int64
	Discount        int64
	Total           int64
	Status          OrderStatus
	PaymentMethod   string
	PaymentStatus   PaymentStatus
	ShippingAddress Address
	Notes           string
	Unread          bool
	CreatedAt       time.Time
}

// CartLine описывает строку корзины покупателя. Снимок цены в корзине
// носит справочный характер: при оформлении цена перечитывается из каталога.
type CartLine struct {
	VariantID         int64
	Quantity          int
	UnitPriceSnapshot int64
}
