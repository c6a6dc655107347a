package promocodes

import (
	"context"
)

// DisabledRepository is a no-op repository for when promocodes are disabled.
type DisabledRepository struct{}

// NewDisabledRepository creates a disabled repository.
func NewDisabledRepository() *DisabledRepository {
	return &DisabledRepository{}
}

// GetByCode always returns ErrPromocodeNotFound when promocodes are disabled.
func (r *DisabledRepository) GetByCode(_ context.Context, _ string) (Promocode, error) {
	return Promocode{}, ErrPromocodeNotFound
}

// GetByID always returns ErrPromocodeNotFound when promocodes are disabled.
func (r *DisabledRepository) GetByID(_ context.Context, _ string) (Promocode, error) {
	return Promocode{}, ErrPromocodeNotFound
}

// List returns an empty list when promocodes are disabled.
func (r *DisabledRepository) List(_ context.Context, _ ListOptions) ([]Promocode, error) {
	return []Promocode{}, nil
}

// Create is a no-op when promocodes are disabled.
func (r *DisabledRepository) Create(_ context.Context, _ Promocode) error {
	return nil
}

// Update is a no-op when promocodes are disabled.
func (r *DisabledRepository) Update(_ context.Context, _ Promocode) error {
	return nil
}

// IncrementUsage is a no-op when promocodes are disabled.
func (r *DisabledRepository) IncrementUsage(_ context.Context, _ string) error {
	return nil
}

// Delete is a no-op when promocodes are disabled.
func (r *DisabledRepository) Delete(_ context.Context, _ string) error {
	return nil
}

// Close is a no-op when promocodes are disabled.
func (r *DisabledRepository) Close() error {
	return nil
}
