// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/gophershop-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrVariantNotFound возвращается, если товарная позиция не найдена.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrVariantInactive возвращается, если товарная позиция снята с продажи.
	ErrVariantInactive = errors.New("variant is not active")
	// ErrInsufficientStock возвращается при попытке списать больше, чем осталось на складе.
	// Это ожидаемый исход продажи, а не внутренняя ошибка.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrNegativeStock возвращается при попытке установить отрицательный остаток.
	ErrNegativeStock = errors.New("stock value must be non-negative")
	// ErrVoucherNotFound возвращается, если ваучер с указанным кодом не найден.
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrVoucherExhausted возвращается, если глобальный лимит погашений ваучера исчерпан.
	ErrVoucherExhausted = errors.New("voucher usage limit exhausted")
	// ErrVoucherExhaustedPerUser возвращается, если покупатель исчерпал свой лимит погашений ваучера.
	ErrVoucherExhaustedPerUser = errors.New("voucher per-customer usage limit exhausted")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNumberConflict возвращается при коллизии номера заказа; вызывающий код
	// генерирует новый номер и повторяет попытку.
	ErrOrderNumberConflict = errors.New("order number conflict")
)

// querier объединяет pgxpool.Pool и pgx.Tx: операции над остатками выполняются
// как отдельно, так и внутри транзакции оформления заказа.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового покупателя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает покупателя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetVariant возвращает товарную позицию вместе с данными товара из каталога.
func (r *PostgresRepository) GetVariant(ctx context.Context, variantID int64) (*model.Variant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT v.id, v.product_id, p.name, v.name, v.price, v.stock, v.low_stock_threshold, v.is_active, p.image_ref
		 FROM variants v
		 JOIN products p ON p.id = v.product_id
		 WHERE v.id = $1`,
		variantID,
	)

	var v model.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.Name, &v.Price, &v.Stock, &v.LowStockThreshold, &v.IsActive, &v.ImageRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVariantNotFound
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}

	return &v, nil
}

// decrementStock выполняет единственное разрешённое списание остатка при продаже:
// одно условное обновление, которое не может увести остаток в минус.
// Проверка "прочитать, сравнить, записать" в коде приложения запрещена —
// она проигрывает гонку параллельным оформлениям.
func decrementStock(ctx context.Context, q querier, variantID int64, quantity int) (int, error) {
	var remaining int
	err := q.QueryRow(ctx,
		`UPDATE variants
		 SET stock = stock - $2
		 WHERE id = $1 AND is_active AND stock >= $2
		 RETURNING stock`,
		variantID, quantity,
	).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}

	// Ноль затронутых строк: выясняем, чем именно отказ вызван.
	// Повторное чтение не сериализовано с отказавшим UPDATE: прочитанный
	// остаток идёт только в текст ошибки и к моменту ответа может устареть.
	// Вызывающие сопоставляют ошибку по сентинелу, а не по числу в тексте.
	var isActive bool
	var stock int
	err = q.QueryRow(ctx, `SELECT is_active, stock FROM variants WHERE id = $1`, variantID).Scan(&isActive, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: variant %d", ErrVariantNotFound, variantID)
		}
		return 0, fmt.Errorf("classify decrement failure: %w", err)
	}
	if !isActive {
		return stock, fmt.Errorf("%w: variant %d", ErrVariantInactive, variantID)
	}
	return stock, fmt.Errorf("%w: variant %d has %d, requested %d", ErrInsufficientStock, variantID, stock, quantity)
}

// DecrementStock атомарно списывает остаток товарной позиции.
// Возвращает остаток после списания.
func (r *PostgresRepository) DecrementStock(ctx context.Context, variantID int64, quantity int) (int, error) {
	return decrementStock(ctx, r.pool, variantID, quantity)
}

// IncrementStock атомарно увеличивает остаток (возвраты, отмены, пополнение склада).
// Возвращает остаток после пополнения.
func (r *PostgresRepository) IncrementStock(ctx context.Context, variantID int64, quantity int) (int, error) {
	var remaining int
	err := r.pool.QueryRow(ctx,
		`UPDATE variants SET stock = stock + $2 WHERE id = $1 RETURNING stock`,
		variantID, quantity,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: variant %d", ErrVariantNotFound, variantID)
		}
		return 0, fmt.Errorf("increment stock: %w", err)
	}
	return remaining, nil
}

// SetStock устанавливает остаток в абсолютное значение (ручная корректировка).
func (r *PostgresRepository) SetStock(ctx context.Context, variantID int64, value int) error {
	if value < 0 {
		return ErrNegativeStock
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE variants SET stock = $2 WHERE id = $1`,
		variantID, value,
	)
	if err != nil {
		return fmt.Errorf("set stock: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: variant %d", ErrVariantNotFound, variantID)
	}
	return nil
}

// GetVoucherByCode возвращает ваучер по нормализованному коду.
func (r *PostgresRepository) GetVoucherByCode(ctx context.Context, code string) (*model.Voucher, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, code, discount_type, value, min_order_value, max_discount,
		        usage_limit, usage_limit_per_user, start_date, end_date,
		        authenticated_only, first_purchase_only, usage_count, status
		 FROM vouchers
		 WHERE code = upper($1)`,
		code,
	)

	var v model.Voucher
	err := row.Scan(&v.ID, &v.Code, &v.Type, &v.Value, &v.MinOrderValue, &v.MaxDiscount,
		&v.UsageLimit, &v.UsageLimitPerUser, &v.StartDate, &v.EndDate,
		&v.AuthenticatedOnly, &v.FirstPurchaseOnly, &v.UsageCount, &v.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}

	return &v, nil
}

// CountVoucherUsageByCustomer возвращает число погашений ваучера указанным покупателем.
func (r *PostgresRepository) CountVoucherUsageByCustomer(ctx context.Context, voucherID, customerID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM voucher_usages WHERE voucher_id = $1 AND customer_id = $2`,
		voucherID, customerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count voucher usage: %w", err)
	}
	return count, nil
}

// GetCart возвращает строки корзины покупателя.
func (r *PostgresRepository) GetCart(ctx context.Context, customerID int64) ([]model.CartLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT variant_id, quantity, unit_price_snapshot
		 FROM cart_items
		 WHERE customer_id = $1
		 ORDER BY variant_id`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart: %w", err)
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		var l model.CartLine
		if err := rows.Scan(&l.VariantID, &l.Quantity, &l.UnitPriceSnapshot); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// PlaceOrder фиксирует заказ в одной транзакции: списание остатков по каждой
// строке, вставка заказа и его строк, погашение ваучера и очистка корзины.
// Любой отказ откатывает всё разом — частично оформленный заказ, частично
// списанный склад или погашение без заказа невозможны.
func (r *PostgresRepository) PlaceOrder(ctx context.Context, order *model.Order, voucherID *int64, clearCartCustomerID *int64) (int64, error) {
	var orderID int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, line := range order.Lines {
			if _, err := decrementStock(ctx, tx, line.VariantID, line.Quantity); err != nil {
				return err
			}
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO orders
			   (number, customer_id, subtotal, shipping, tax, discount, total,
			    status, payment_method, payment_status,
			    ship_recipient, ship_phone, ship_line, ship_city, ship_region, ship_postal_code,
			    notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			 RETURNING id, created_at`,
			order.Number, order.CustomerID, order.Subtotal, order.Shipping, order.Tax, order.Discount, order.Total,
			string(order.Status), order.PaymentMethod, string(order.PaymentStatus),
			order.ShippingAddress.Recipient, order.ShippingAddress.Phone, order.ShippingAddress.Line,
			order.ShippingAddress.City, order.ShippingAddress.Region, order.ShippingAddress.PostalCode,
			order.Notes,
		).Scan(&orderID, &order.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrOrderNumberConflict, order.Number)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, line := range order.Lines {
			_, err = tx.Exec(ctx,
				`INSERT INTO order_lines
				   (order_id, variant_id, product_id, product_name, variant_name, unit_price, quantity, image_ref)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				orderID, line.VariantID, line.ProductID, line.ProductName, line.VariantName,
				line.UnitPrice, line.Quantity, line.ImageRef,
			)
			if err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}

		if voucherID != nil {
			if err := recordVoucherUsage(ctx, tx, *voucherID, order.CustomerID, orderID, order.Discount); err != nil {
				return err
			}
		}

		if clearCartCustomerID != nil {
			if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE customer_id = $1`, *clearCartCustomerID); err != nil {
				return fmt.Errorf("clear cart: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	order.ID = orderID
	return orderID, nil
}

// recordVoucherUsage атомарно увеличивает счётчик погашений и добавляет запись
// об использовании. Условие в UPDATE гарантирует, что глобальный счётчик
// никогда не превысит лимит, сколько бы оформлений ни шло параллельно.
// UPDATE удерживает блокировку строки ваучера до конца транзакции, поэтому
// последующий пересчёт погашений покупателя сериализован с конкурентными
// погашениями того же ваучера и персональный лимит тоже не может быть превышен.
func recordVoucherUsage(ctx context.Context, q querier, voucherID int64, customerID *int64, orderID int64, discount int64) error {
	var perUserLimit *int
	err := q.QueryRow(ctx,
		`UPDATE vouchers
		 SET usage_count = usage_count + 1
		 WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)
		 RETURNING usage_limit_per_user`,
		voucherID,
	).Scan(&perUserLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: voucher %d", ErrVoucherExhausted, voucherID)
		}
		return fmt.Errorf("increment voucher usage: %w", err)
	}

	if perUserLimit != nil && customerID != nil {
		var used int
		err = q.QueryRow(ctx,
			`SELECT count(*) FROM voucher_usages WHERE voucher_id = $1 AND customer_id = $2`,
			voucherID, *customerID,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("count customer voucher usage: %w", err)
		}
		if used >= *perUserLimit {
			return fmt.Errorf("%w: voucher %d, customer %d", ErrVoucherExhaustedPerUser, voucherID, *customerID)
		}
	}

	_, err = q.Exec(ctx,
		`INSERT INTO voucher_usages (voucher_id, customer_id, order_id, discount) VALUES ($1, $2, $3, $4)`,
		voucherID, customerID, orderID, discount,
	)
	if err != nil {
		return fmt.Errorf("insert voucher usage: %w", err)
	}
	return nil
}

// GetOrderByID возвращает заказ с его строками.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, number, customer_id, subtotal, shipping, tax, discount, total,
		        status, payment_method, payment_status,
		        ship_recipient, ship_phone, ship_line, ship_city, ship_region, ship_postal_code,
		        notes, is_unread, created_at
		 FROM orders
		 WHERE id = $1`,
		orderID,
	)

	var o model.Order
	var status, paymentStatus string
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.Subtotal, &o.Shipping, &o.Tax, &o.Discount, &o.Total,
		&status, &o.PaymentMethod, &paymentStatus,
		&o.ShippingAddress.Recipient, &o.ShippingAddress.Phone, &o.ShippingAddress.Line,
		&o.ShippingAddress.City, &o.ShippingAddress.Region, &o.ShippingAddress.PostalCode,
		&o.Notes, &o.Unread, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)

	rows, err := r.pool.Query(ctx,
		`SELECT variant_id, product_id, product_name, variant_name, unit_price, quantity, image_ref
		 FROM order_lines
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.VariantID, &l.ProductID, &l.ProductName, &l.VariantName, &l.UnitPrice, &l.Quantity, &l.ImageRef); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &o, nil
}
