// Package notify предоставляет клиент для уведомления внешней бэк-офисной
// системы о новых заказах. Уведомление отправляется после фиксации заказа и
// никак не влияет на его результат.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mmeshcher/gophershop-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с приёмником уведомлений.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// OrderCreatedEvent — полезная нагрузка уведомления о созданном заказе.
type OrderCreatedEvent struct {
	Number     string `json:"number"`
	CustomerID *int64 `json:"customer_id,omitempty"`
	Total      int64  `json:"total"`
	Lines      int    `json:"lines"`
	CreatedAt  string `json:"created_at"`
}

// NewClient создаёт клиент уведомлений для указанного адреса.
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: c,
	}
}

// OrderCreated отправляет уведомление о созданном заказе.
func (c *Client) OrderCreated(ctx context.Context, order *model.Order) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	event := OrderCreatedEvent{
		Number:     order.Number,
		CustomerID: order.CustomerID,
		Total:      order.Total,
		Lines:      len(order.Lines),
		CreatedAt:  order.CreatedAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/events/order-created", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
