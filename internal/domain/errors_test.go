package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: fmt.Errorf("save: %w", ErrOrderVersionConflict), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStockErrorNamesProduct(t *testing.T) {
	err := NewInsufficientStock(Product{ID: "p-1", Name: "Brass Lamp", StockQuantity: 1}, 2)

	if !strings.Contains(err.Error(), "Brass Lamp") {
		t.Fatalf("stock error must name the product: %q", err.Error())
	}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("stock error must unwrap to ErrInsufficientStock")
	}
	if errors.Is(err, ErrOutOfStock) {
		t.Fatal("checkout stock error must not match cart sentinel")
	}

	wrapped := fmt.Errorf("place order: %w", err)
	got, ok := IsStockError(wrapped)
	if !ok || got.ProductID != "p-1" || got.Available != 1 || got.Requested != 2 {
		t.Fatalf("unexpected stock error details: %+v ok=%v", got, ok)
	}
}

func TestStockErrorFallsBackToProductID(t *testing.T) {
	err := &StockError{Err: ErrOutOfStock, ProductID: "p-9"}
	if !strings.HasPrefix(err.Error(), "p-9 ") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatal("expected ErrOutOfStock")
	}
}

func TestValidationError(t *testing.T) {
	verr := &ValidationError{}
	if verr.OrNil() != nil {
		t.Fatal("empty validation error must collapse to nil")
	}

	verr.Add("shippingMethod", "is invalid")
	verr.Add("shippingAddress.city", "is required")

	err := verr.OrNil()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("validation error must unwrap to ErrValidation")
	}
	if !strings.Contains(err.Error(), "shippingAddress.city: is required") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
