package catalog

import (
	"context"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
)

// MockValidator — конфигурируемая заглушка ProductValidator для тестов
// и локального запуска без Kafka. Отдаёт записи каталога только для
// известных идентификаторов; неизвестные просто отсутствуют в ответе.
type MockValidator struct {
	ValidateErr error

	ValidateCalls  int
	LastProductIDs []string

	products map[string]domain.Product
}

// NewMockValidator возвращает mock с заданным каталогом.
func NewMockValidator(products ...domain.Product) *MockValidator {
	catalog := make(map[string]domain.Product, len(products))
	for _, product := range products {
		catalog[product.ID] = product
	}
	return &MockValidator{products: catalog}
}

// Seed добавляет или заменяет запись каталога.
func (m *MockValidator) Seed(product domain.Product) {
	m.products[product.ID] = product
}

// Validate возвращает записи каталога для известных идентификаторов
// и считает вызовы.
func (m *MockValidator) Validate(_ context.Context, productIDs []string) ([]domain.Product, error) {
	m.ValidateCalls++
	m.LastProductIDs = append([]string(nil), productIDs...)

	if m.ValidateErr != nil {
		return nil, m.ValidateErr
	}

	resolved := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		if product, ok := m.products[id]; ok {
			resolved = append(resolved, product)
		}
	}
	return resolved, nil
}

var _ domain.ProductValidator = (*MockValidator)(nil)
