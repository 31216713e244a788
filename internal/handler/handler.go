// Package handler содержит HTTP-обработчики API магазина гофершоп.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophershop-system/internal/checkout"
	"github.com/mmeshcher/gophershop-system/internal/identity"
	"github.com/mmeshcher/gophershop-system/internal/inventory"
	"github.com/mmeshcher/gophershop-system/internal/middleware"
	"github.com/mmeshcher/gophershop-system/internal/model"
	ordersvc "github.com/mmeshcher/gophershop-system/internal/order"
	"github.com/mmeshcher/gophershop-system/internal/repository"
	"github.com/mmeshcher/gophershop-system/internal/validation"
	"github.com/mmeshcher/gophershop-system/internal/voucher"
)

// CheckoutService определяет контракт оформления заказов, используемый HTTP-обработчиками.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (*model.Order, error)
	CheckoutFromCart(ctx context.Context, customerID int64, req checkout.Request) (*model.Order, error)
	ValidateVoucher(ctx context.Context, code string, orderValue int64, customerID *int64) (*voucher.ValidationResult, error)
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
}

// IdentityService определяет контракт учётных записей.
type IdentityService interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
}

// StockService определяет контракт инвентарного реестра для справочных и
// административных операций.
type StockService interface {
	CheckAvailability(ctx context.Context, variantID int64, quantity int) (*inventory.Availability, error)
	Increment(ctx context.Context, variantID int64, quantity int) (int, error)
	Decrement(ctx context.Context, variantID int64, quantity int) (*inventory.DecrementResult, error)
	AdjustAbsolute(ctx context.Context, variantID int64, value int) error
}

// Handler реализует HTTP-обработчики API магазина гофершоп.
type Handler struct {
	checkouts      CheckoutService
	identity       IdentityService
	stock          StockService
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(checkouts CheckoutService, identity IdentityService, stock StockService, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		checkouts:      checkouts,
		identity:       identity,
		stock:          stock,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	customerID, err := h.identity.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, customerID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию покупателя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	customerID, err := h.identity.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, identity.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, customerID)
	w.WriteHeader(http.StatusOK)
}

type checkoutItemRequest struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items,omitempty"`
	ShippingAddress model.Address         `json:"shipping_address"`
	PaymentMethod   string                `json:"payment_method"`
	VoucherCode     string                `json:"voucher_code,omitempty"`
	Shipping        int64                 `json:"shipping"`
	Tax             int64                 `json:"tax"`
	Notes           string                `json:"notes,omitempty"`
}

func (req checkoutRequest) toServiceRequest() checkout.Request {
	items := make([]ordersvc.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ordersvc.Item{VariantID: it.VariantID, Quantity: it.Quantity})
	}

	return checkout.Request{
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		VoucherCode:     req.VoucherCode,
		Shipping:        req.Shipping,
		Tax:             req.Tax,
		Notes:           req.Notes,
	}
}

type orderLineResponse struct {
	VariantID   int64  `json:"variant_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	VariantName string `json:"variant_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	ImageRef    string `json:"image_ref,omitempty"`
}

type orderResponse struct {
	ID              int64               `json:"id"`
	Number          string              `json:"number"`
	CustomerID      *int64              `json:"customer_id,omitempty"`
	Lines           []orderLineResponse `json:"lines"`
	Subtotal        int64               `json:"subtotal"`
	Shipping        int64               `json:"shipping"`
	Tax             int64               `json:"tax"`
	Discount        int64               `json:"discount"`
	Total           int64               `json:"total"`
	Status          string              `json:"status"`
	PaymentMethod   string              `json:"payment_method"`
	PaymentStatus   string              `json:"payment_status"`
	ShippingAddress model.Address       `json:"shipping_address"`
	Notes           string              `json:"notes,omitempty"`
	CreatedAt       string              `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineResponse{
			VariantID:   l.VariantID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			VariantName: l.VariantName,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			ImageRef:    l.ImageRef,
		})
	}

	return orderResponse{
		ID:              o.ID,
		Number:          o.Number,
		CustomerID:      o.CustomerID,
		Lines:           lines,
		Subtotal:        o.Subtotal,
		Shipping:        o.Shipping,
		Tax:             o.Tax,
		Discount:        o.Discount,
		Total:           o.Total,
		Status:          string(o.Status),
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   string(o.PaymentStatus),
		ShippingAddress: o.ShippingAddress,
		Notes:           o.Notes,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

// Checkout оформляет гостевой заказ из явного списка позиций.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.checkouts.Checkout(r.Context(), req.toServiceRequest())
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	h.writeOrder(w, http.StatusCreated, order)
}

// CheckoutFromCart оформляет заказ из корзины текущего покупателя.
func (h *Handler) CheckoutFromCart(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetCustomerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.checkouts.CheckoutFromCart(r.Context(), customerID, req.toServiceRequest())
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	h.writeOrder(w, http.StatusCreated, order)
}

type validateVoucherRequest struct {
	Code       string `json:"code"`
	OrderValue int64  `json:"order_value"`
}

type validateVoucherResponse struct {
	Valid    bool   `json:"valid"`
	Discount int64  `json:"discount,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ValidateVoucher — предпросмотр применимости ваучера. Счётчики погашений не меняются.
func (h *Handler) ValidateVoucher(w http.ResponseWriter, r *http.Request) {
	var req validateVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidVoucherCode(validation.NormalizeVoucherCode(req.Code)) || req.OrderValue < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var customerID *int64
	if id, ok := middleware.GetCustomerIDFromContext(r.Context()); ok {
		customerID = &id
	}

	res, err := h.checkouts.ValidateVoucher(r.Context(), req.Code, req.OrderValue, customerID)
	if err != nil {
		h.logger.Error("validate voucher error", zap.Error(err), zap.String("code", req.Code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, validateVoucherResponse{
		Valid:    res.Valid,
		Discount: res.Discount,
		Reason:   string(res.Reason),
	})
}

// GetOrder возвращает заказ для страницы подтверждения.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.checkouts.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.Int64("orderID", orderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeOrder(w, http.StatusOK, order)
}

type availabilityResponse struct {
	Available    bool `json:"available"`
	CurrentStock int  `json:"current_stock"`
	LowStock     bool `json:"low_stock"`
}

// CheckAvailability сообщает, доступно ли запрошенное количество позиции.
// Ответ справочный: право на продажу даёт только списание при оформлении.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	variantID, err := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	quantity := 1
	if q := r.URL.Query().Get("quantity"); q != "" {
		quantity, err = strconv.Atoi(q)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	av, err := h.stock.CheckAvailability(r.Context(), variantID, quantity)
	if err != nil {
		switch {
		case errors.Is(err, inventory.ErrInvalidQuantity):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrVariantNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrVariantInactive):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("check availability error", zap.Error(err), zap.Int64("variantID", variantID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, availabilityResponse{
		Available:    av.Available,
		CurrentStock: av.CurrentStock,
		LowStock:     av.LowStock,
	})
}

type adjustStockRequest struct {
	VariantID int64  `json:"variant_id"`
	Operation string `json:"operation"` // add | subtract | set
	Quantity  int    `json:"quantity"`
}

type adjustStockResponse struct {
	Stock int `json:"stock"`
}

// AdjustStock — административная корректировка остатка.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	switch req.Operation {
	case "add":
		stock, err := h.stock.Increment(ctx, req.VariantID, req.Quantity)
		if err != nil {
			h.writeStockError(w, err, req.VariantID)
			return
		}
		h.writeJSON(w, http.StatusOK, adjustStockResponse{Stock: stock})
	case "subtract":
		res, err := h.stock.Decrement(ctx, req.VariantID, req.Quantity)
		if err != nil {
			h.writeStockError(w, err, req.VariantID)
			return
		}
		if !res.OK {
			http.Error(w, "insufficient stock", http.StatusConflict)
			return
		}
		h.writeJSON(w, http.StatusOK, adjustStockResponse{Stock: res.RemainingStock})
	case "set":
		if err := h.stock.AdjustAbsolute(ctx, req.VariantID, req.Quantity); err != nil {
			h.writeStockError(w, err, req.VariantID)
			return
		}
		h.writeJSON(w, http.StatusOK, adjustStockResponse{Stock: req.Quantity})
	default:
		http.Error(w, "unknown operation", http.StatusBadRequest)
	}
}

func (h *Handler) writeStockError(w http.ResponseWriter, err error, variantID int64) {
	switch {
	case errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, repository.ErrNegativeStock):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrVariantNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrVariantInactive):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("stock adjustment error", zap.Error(err), zap.Int64("variantID", variantID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// writeCheckoutError транслирует ошибки оформления в HTTP-статусы.
// Отказы валидации не оставляют побочных эффектов и сообщаются с причиной.
func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ordersvc.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrVariantNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, repository.ErrVariantInactive):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrInsufficientStock):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ordersvc.ErrInvalidVoucher),
		errors.Is(err, repository.ErrVoucherExhausted),
		errors.Is(err, repository.ErrVoucherExhaustedPerUser):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ordersvc.ErrEmptyCart):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("checkout error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeOrder(w http.ResponseWriter, status int, order *model.Order) {
	h.writeJSON(w, status, toOrderResponse(order))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
