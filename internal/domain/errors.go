package domain

import "errors"

var (
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total_amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrItemProductRequired = errors.New("item product_id is required")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка несоответствия total_items и суммы количеств позиций.
	ErrTotalItemsMismatch = errors.New("order total_items does not match items sum")
	// ErrUnknownStatus возвращается при попытке использовать статус вне закрытого множества.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists сигнализирует о конфликте идентификаторов при создании.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrProductUnresolved — каталог не смог разрешить запрошенный товар.
	ErrProductUnresolved = errors.New("product is not resolvable by catalog")
	// ErrValidatorUnavailable — валидатор товаров не ответил или ответил ошибкой.
	ErrValidatorUnavailable = errors.New("product validator unavailable")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNotFound проверяет, является ли ошибка отсутствием заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}
