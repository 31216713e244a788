package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/gophershop-system/internal/checkout"
	"github.com/mmeshcher/gophershop-system/internal/inventory"
	"github.com/mmeshcher/gophershop-system/internal/middleware"
	"github.com/mmeshcher/gophershop-system/internal/model"
	ordersvc "github.com/mmeshcher/gophershop-system/internal/order"
	"github.com/mmeshcher/gophershop-system/internal/repository"
	"github.com/mmeshcher/gophershop-system/internal/voucher"
)

type stubCheckouts struct {
	order    *model.Order
	err      error
	validate *voucher.ValidationResult

	lastCustomerID int64
}

func (s *stubCheckouts) Checkout(ctx context.Context, req checkout.Request) (*model.Order, error) {
	return s.order, s.err
}

func (s *stubCheckouts) CheckoutFromCart(ctx context.Context, customerID int64, req checkout.Request) (*model.Order, error) {
	s.lastCustomerID = customerID
	return s.order, s.err
}

func (s *stubCheckouts) ValidateVoucher(ctx context.Context, code string, orderValue int64, customerID *int64) (*voucher.ValidationResult, error) {
	return s.validate, s.err
}

func (s *stubCheckouts) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	return s.order, s.err
}

type stubIdentity struct {
	registerID  int64
	registerErr error
	authID      int64
	authErr     error
}

func (s *stubIdentity) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerID, s.registerErr
}

func (s *stubIdentity) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return s.authID, s.authErr
}

type stubStock struct {
	availability *inventory.Availability
	decrement    *inventory.DecrementResult
	increment    int
	err          error
}

func (s *stubStock) CheckAvailability(ctx context.Context, variantID int64, quantity int) (*inventory.Availability, error) {
	return s.availability, s.err
}

func (s *stubStock) Increment(ctx context.Context, variantID int64, quantity int) (int, error) {
	return s.increment, s.err
}

func (s *stubStock) Decrement(ctx context.Context, variantID int64, quantity int) (*inventory.DecrementResult, error) {
	return s.decrement, s.err
}

func (s *stubStock) AdjustAbsolute(ctx context.Context, variantID int64, value int) error {
	return s.err
}

func newTestHandler(t *testing.T, checkouts CheckoutService, identity IdentityService, stock StockService) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(checkouts, identity, stock, logger, auth)
}

func testOrder() *model.Order {
	return &model.Order{
		ID:     100,
		Number: "GS-20260831-ABCDEF0123",
		Lines: []model.OrderLine{
			{VariantID: 1, ProductID: 10, ProductName: "product", VariantName: "variant", UnitPrice: 100000, Quantity: 2},
		},
		Subtotal:      200000,
		Shipping:      10000,
		Total:         210000,
		Status:        model.OrderStatusPending,
		PaymentMethod: "cod",
		PaymentStatus: model.PaymentStatusPending,
	}
}

func checkoutBody(t *testing.T) *bytes.Reader {
	t.Helper()

	body, err := json.Marshal(checkoutRequest{
		Items:         []checkoutItemRequest{{VariantID: 1, Quantity: 2}},
		PaymentMethod: "cod",
		ShippingAddress: model.Address{
			Recipient: "Ivan Petrov",
			Phone:     "+7 900 000-00-00",
			Line:      "Lenina 1",
			City:      "Moscow",
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(body)
}

func TestCheckout_Created(t *testing.T) {
	svc := &stubCheckouts{order: testOrder()}
	h := newTestHandler(t, svc, &stubIdentity{}, &stubStock{})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", checkoutBody(t))
	rec := httptest.NewRecorder()

	h.Checkout(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Number != "GS-20260831-ABCDEF0123" || resp.Total != 210000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.CustomerID != nil {
		t.Fatalf("guest order must not carry customer id")
	}
}

func TestCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "insufficient stock", err: repository.ErrInsufficientStock, want: http.StatusConflict},
		{name: "variant not found", err: repository.ErrVariantNotFound, want: http.StatusNotFound},
		{name: "variant inactive", err: repository.ErrVariantInactive, want: http.StatusUnprocessableEntity},
		{name: "invalid voucher", err: ordersvc.ErrInvalidVoucher, want: http.StatusUnprocessableEntity},
		{name: "voucher exhausted", err: repository.ErrVoucherExhausted, want: http.StatusUnprocessableEntity},
		{name: "voucher exhausted for customer", err: repository.ErrVoucherExhaustedPerUser, want: http.StatusUnprocessableEntity},
		{name: "empty cart", err: ordersvc.ErrEmptyCart, want: http.StatusUnprocessableEntity},
		{name: "bad input", err: ordersvc.ErrValidation, want: http.StatusBadRequest},
		{name: "number conflict surfaces as internal", err: repository.ErrOrderNumberConflict, want: http.StatusInternalServerError},
		{name: "internal", err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubCheckouts{err: tt.err}
			h := newTestHandler(t, svc, &stubIdentity{}, &stubStock{})

			req := httptest.NewRequest(http.MethodPost, "/api/checkout", checkoutBody(t))
			rec := httptest.NewRecorder()

			h.Checkout(rec, req)

			if rec.Result().StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", rec.Result().StatusCode, tt.want)
			}
		})
	}
}

func TestCheckoutFromCart_RequiresAuth(t *testing.T) {
	svc := &stubCheckouts{order: testOrder()}
	h := newTestHandler(t, svc, &stubIdentity{}, &stubStock{})

	req := httptest.NewRequest(http.MethodPost, "/api/user/checkout", checkoutBody(t))
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.CheckoutFromCart))
	handlerWithAuth.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCheckoutFromCart_PassesCustomerID(t *testing.T) {
	svc := &stubCheckouts{order: testOrder()}
	h := newTestHandler(t, svc, &stubIdentity{}, &stubStock{})

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, 7)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/api/user/checkout", checkoutBody(t))
	req.AddCookie(cookie)

	respRec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.CheckoutFromCart))
	handlerWithAuth.ServeHTTP(respRec, req)

	if respRec.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", respRec.Result().StatusCode, http.StatusCreated)
	}
	if svc.lastCustomerID != 7 {
		t.Fatalf("customer id = %d, want 7", svc.lastCustomerID)
	}
}

func TestValidateVoucher_ReturnsReason(t *testing.T) {
	svc := &stubCheckouts{validate: &voucher.ValidationResult{Reason: voucher.ReasonBelowMinimum}}
	h := newTestHandler(t, svc, &stubIdentity{}, &stubStock{})

	body, _ := json.Marshal(validateVoucherRequest{Code: "FIRST50", OrderValue: 1000})
	req := httptest.NewRequest(http.MethodPost, "/api/vouchers/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ValidateVoucher(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp validateVoucherResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Valid || resp.Reason != string(voucher.ReasonBelowMinimum) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestValidateVoucher_BadCode(t *testing.T) {
	h := newTestHandler(t, &stubCheckouts{}, &stubIdentity{}, &stubStock{})

	body, _ := json.Marshal(validateVoucherRequest{Code: "so bad!", OrderValue: 1000})
	req := httptest.NewRequest(http.MethodPost, "/api/vouchers/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ValidateVoucher(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	svc := &stubCheckouts{err: repository.ErrOrderNotFound}
	h := newTestHandler(t, svc, &stubIdentity{}, &stubStock{})

	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/123", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestCheckAvailability_JSONResponse(t *testing.T) {
	stock := &stubStock{availability: &inventory.Availability{Available: true, CurrentStock: 4, LowStock: true}}
	h := newTestHandler(t, &stubCheckouts{}, &stubIdentity{}, stock)

	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/stock/1?quantity=2", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp availabilityResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Available || resp.CurrentStock != 4 || !resp.LowStock {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAdjustStock_SubtractConflict(t *testing.T) {
	stock := &stubStock{decrement: &inventory.DecrementResult{OK: false, RemainingStock: 1}}
	h := newTestHandler(t, &stubCheckouts{}, &stubIdentity{}, stock)

	body, _ := json.Marshal(adjustStockRequest{VariantID: 1, Operation: "subtract", Quantity: 5})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/stock", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AdjustStock(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestAdjustStock_UnknownOperation(t *testing.T) {
	h := newTestHandler(t, &stubCheckouts{}, &stubIdentity{}, &stubStock{})

	body, _ := json.Marshal(adjustStockRequest{VariantID: 1, Operation: "divide", Quantity: 5})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/stock", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AdjustStock(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestRegister_Success(t *testing.T) {
	h := newTestHandler(t, &stubCheckouts{}, &stubIdentity{registerID: 42}, &stubStock{})

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie not set")
	}
}

func TestRegister_Conflict(t *testing.T) {
	h := newTestHandler(t, &stubCheckouts{}, &stubIdentity{registerErr: repository.ErrUserExists}, &stubStock{})

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}
