package domain_test

import (
	"fmt"
	"testing"

	"github.com/vladislavdragonenkov/orders-service/internal/domain"
)

func TestIsNotFound(t *testing.T) {
	if !domain.IsNotFound(domain.ErrOrderNotFound) {
		t.Fatal("expected direct sentinel to be detected")
	}

	wrapped := fmt.Errorf("load order: %w", domain.ErrOrderNotFound)
	if !domain.IsNotFound(wrapped) {
		t.Fatal("expected wrapped sentinel to be detected")
	}

	if domain.IsNotFound(domain.ErrProductUnresolved) {
		t.Fatal("unrelated error must not be treated as not-found")
	}
}

func TestAllowAllTransitions(t *testing.T) {
	policy := domain.AllowAllTransitions{}

	pairs := [][2]domain.OrderStatus{
		{domain.OrderStatusPending, domain.OrderStatusDelivered},
		{domain.OrderStatusDelivered, domain.OrderStatusPending},
		{domain.OrderStatusCanceled, domain.OrderStatusCanceled},
	}
	for _, pair := range pairs {
		if err := policy.Validate(pair[0], pair[1]); err != nil {
			t.Fatalf("transition %s -> %s must be allowed: %v", pair[0], pair[1], err)
		}
	}
}
