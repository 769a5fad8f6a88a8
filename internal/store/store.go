// Package store persists remote cart records for the reference cart server. Every method
// is scoped to one customer: rows of other customers behave as if they did not exist.
package store

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cartsync/internal/domain"
)

var (
	ErrNotFound  = errors.New("cart record not found")
	ErrDuplicate = errors.New("cart record already exists for customer and product")
	ErrInvalid   = errors.New("invalid cart record")
)

// RecordStore is implemented by the memory, MongoDB, PostgreSQL and SQLite backends.
type RecordStore interface {
	List(ctx context.Context, customerID string) ([]domain.RemoteRecord, error)
	Get(ctx context.Context, customerID, id string) (domain.RemoteRecord, error)
	Create(ctx context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error)
	UpdateQuantity(ctx context.Context, customerID, id string, quantity int) (domain.RemoteRecord, error)
	Delete(ctx context.Context, customerID, id string) error
	Close() error
}

func validate(customerID, productID string, quantity int) error {
	switch {
	case customerID == "":
		return errors.Join(ErrInvalid, errors.New("customer is required"))
	case productID == "":
		return errors.Join(ErrInvalid, errors.New("product is required"))
	}
	return validQuantity(quantity)
}

func validQuantity(quantity int) error {
	if quantity < 1 {
		return errors.Join(ErrInvalid, errors.New("quantity must be positive"))
	}
	return nil
}
