package dao

import (
	"context"
)

// Service is a keyed registry of pool entities. The framework keeps its
// sessions and accounting groups behind it.
type Service[K comparable, T any] interface {
	// Create registers t and fails with ErrExists when its key is taken
	Create(ctx context.Context, t *T) error
	// Save registers or replaces t
	Save(ctx context.Context, t *T) error
	// Load fails with ErrNotFound for an unknown key
	Load(ctx context.Context, id K) (*T, error)
	// Delete fails with ErrNotFound for an unknown key
	Delete(ctx context.Context, id K) error
	// List returns every entity in registration order
	List(ctx context.Context) ([]*T, error)
}
