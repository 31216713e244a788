// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"

	"github.com/mmeshcher/gophershop-system/internal/model"
)

// NormalizeVoucherCode приводит код ваучера к каноническому виду:
// обрезает пробелы и переводит в верхний регистр.
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidVoucherCode проверяет, что код ваучера состоит из допустимых символов.
func IsValidVoucherCode(code string) bool {
	if code == "" || len(code) > 64 {
		return false
	}

	for _, ch := range code {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' && ch != '_' {
			return false
		}
	}

	return true
}

// IsValidQuantity проверяет, что количество в строке заказа положительно.
func IsValidQuantity(quantity int) bool {
	return quantity > 0
}

// IsValidAddress проверяет заполненность обязательных полей адреса доставки.
func IsValidAddress(a model.Address) bool {
	return strings.TrimSpace(a.Recipient) != "" &&
		strings.TrimSpace(a.Phone) != "" &&
		strings.TrimSpace(a.Line) != "" &&
		strings.TrimSpace(a.City) != ""
}
