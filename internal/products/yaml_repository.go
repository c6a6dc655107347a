package products

import (
	"context"
	"errors"
	"sort"

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/money"
)

// YAMLRepository implements Repository using the in-memory YAML catalog.
type YAMLRepository struct {
	byID  map[string]Product
	bySKU map[string]string // sku → product ID
	ids   []string          // sorted for deterministic listings
}

// NewYAMLRepository creates a repository from YAML catalog seeds. Seeds
// without an explicit currency inherit the catalog default.
func NewYAMLRepository(catalog map[string]config.ProductSeed, currency string) *YAMLRepository {
	r := &YAMLRepository{
		byID:  make(map[string]Product, len(catalog)),
		bySKU: make(map[string]string, len(catalog)),
	}

	for id, seed := range catalog {
		p := seedToProduct(id, seed, currency)
		r.byID[p.ID] = p
		r.bySKU[p.SKU] = p.ID
		r.ids = append(r.ids, p.ID)
	}
	sort.Strings(r.ids)

	return r
}

func seedToProduct(id string, seed config.ProductSeed, currency string) Product {
	if seed.ID != "" {
		id = seed.ID
	}
	sku := seed.SKU
	if sku == "" {
		sku = id
	}
	active := true
	if seed.Active != nil {
		active = *seed.Active
	}
	return Product{
		ID:           id,
		SKU:          sku,
		Name:         seed.Name,
		Description:  seed.Description,
		Price:        money.FromFloat(currency, seed.Price),
		Category:     seed.Category,
		Brand:        seed.Brand,
		ImageURL:     seed.ImageURL,
		Availability: DefaultAvailability,
		Condition:    DefaultCondition,
		Active:       active,
	}
}

// GetProduct retrieves a product by ID.
func (r *YAMLRepository) GetProduct(_ context.Context, id string) (Product, error) {
	p, ok := r.byID[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

// GetProductBySKU retrieves a product by SKU.
func (r *YAMLRepository) GetProductBySKU(_ context.Context, sku string) (Product, error) {
	id, ok := r.bySKU[sku]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return r.byID[id], nil
}

// SearchProducts returns active products matching the query.
func (r *YAMLRepository) SearchProducts(_ context.Context, query Query) ([]Product, error) {
	return Filter(r.ordered(), query), nil
}

// ListProducts returns products ordered by ID.
func (r *YAMLRepository) ListProducts(_ context.Context, opts ListOptions) ([]Product, error) {
	return applyListOptions(r.ordered(), opts), nil
}

func (r *YAMLRepository) ordered() []Product {
	all := make([]Product, 0, len(r.ids))
	for _, id := range r.ids {
		all = append(all, r.byID[id])
	}
	return all
}

// CreateProduct is not supported for YAML repository (read-only).
func (r *YAMLRepository) CreateProduct(_ context.Context, _ Product) error {
	return errors.New("yaml repository is read-only")
}

// UpdateProduct is not supported for YAML repository (read-only).
func (r *YAMLRepository) UpdateProduct(_ context.Context, _ Product) error {
	return errors.New("yaml repository is read-only")
}

// DeleteProduct is not supported for YAML repository (read-only).
func (r *YAMLRepository) DeleteProduct(_ context.Context, _ string) error {
	return errors.New("yaml repository is read-only")
}

// Close is a no-op for YAML repository.
func (r *YAMLRepository) Close() error {
	return nil
}
