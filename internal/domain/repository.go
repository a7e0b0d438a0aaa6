package domain

import (
	"context"
	"time"
)

// ListFilter задаёт параметры постраничной выборки заказов.
type ListFilter struct {
	// Page — номер страницы, начиная с 1.
	Page int
	// Limit — размер страницы, > 0.
	Limit int
	// Status опционально ограничивает выборку одним статусом.
	Status *OrderStatus
}

// Offset возвращает количество пропускаемых записей для текущей страницы.
func (f ListFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе со всеми позициями атомарно:
	// либо заказ и все позиции, либо ничего.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает страницу заказов по фильтру и общее количество
	// подходящих записей. Страница за пределами диапазона — пустой срез.
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
	// UpdateStatus безусловно записывает новый статус заказа.
	// Возвращает ErrOrderNotFound, если заказа нет.
	UpdateStatus(ctx context.Context, id string, status OrderStatus, updatedAt time.Time) error
}
