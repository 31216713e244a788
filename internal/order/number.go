package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber генерирует человекочитаемый номер заказа: дата плюс 40 бит
// случайности из UUID. Глобальную уникальность гарантирует не генератор, а
// уникальный индекс в хранилище в паре с повтором при коллизии.
func NewOrderNumber(now time.Time) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("GS-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(raw[:10]))
}
