package products

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/money"
)

// ErrProductNotFound is returned when a product doesn't exist.
var ErrProductNotFound = errors.New("product not found")

// ErrSKUExists is returned when creating a product whose SKU is already taken.
var ErrSKUExists = errors.New("sku already exists")

// Default schema.org annotations for catalog entries.
const (
	DefaultAvailability = "https://schema.org/InStock"
	DefaultCondition    = "https://schema.org/NewCondition"
)

// DefaultSearchLimit is applied when a search request does not specify one.
const DefaultSearchLimit = 10

// Product represents a catalog entry offered through product search and
// referenced by checkout line items via its SKU.
type Product struct {
	ID           string
	SKU          string
	Name         string
	Description  string
	Price        money.Amount
	Category     string
	Brand        string
	ImageURL     string
	Availability string
	Condition    string
	Active       bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Query captures the product search parameters.
type Query struct {
	// Text is matched case-insensitively against name, description and
	// category.
	Text string
	// Category narrows results to categories containing this value,
	// case-insensitively.
	Category string
	// Limit caps the result count. Zero or negative means DefaultSearchLimit.
	Limit int
}

// Normalized returns the query with defaults applied.
func (q Query) Normalized() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	return q
}

// ListOptions controls ListProducts pagination and visibility.
type ListOptions struct {
	IncludeInactive bool
	Offset          int
	// Limit of 0 means no limit.
	Limit int
}

// Repository defines the interface for product storage.
type Repository interface {
	// GetProduct retrieves a product by ID, including inactive products.
	GetProduct(ctx context.Context, id string) (Product, error)

	// GetProductBySKU retrieves a product by SKU, including inactive
	// products. Returns ErrProductNotFound if no product matches.
	GetProductBySKU(ctx context.Context, sku string) (Product, error)

	// SearchProducts returns active products matching the query, ordered
	// by ID.
	SearchProducts(ctx context.Context, query Query) ([]Product, error)

	// ListProducts returns products ordered by ID.
	ListProducts(ctx context.Context, opts ListOptions) ([]Product, error)

	// CreateProduct creates a new product. Returns ErrSKUExists when the
	// SKU is already taken.
	CreateProduct(ctx context.Context, product Product) error

	// UpdateProduct updates an existing product.
	UpdateProduct(ctx context.Context, product Product) error

	// DeleteProduct soft-deletes a product (sets active = false).
	DeleteProduct(ctx context.Context, id string) error

	// Close closes any open connections.
	Close() error
}

// NewRepository creates a product repository based on config with optional caching.
func NewRepository(cfg config.ProductsConfig) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil)
}

// NewRepositoryWithDB creates a product repository with an optional shared
// database pool. If sharedDB is provided (non-nil) for postgres sources, it
// is used instead of opening a new connection.
func NewRepositoryWithDB(cfg config.ProductsConfig, sharedDB *sql.DB) (Repository, error) {
	source := cfg.Source
	if source == "" {
		source = "yaml"
	}

	var underlying Repository
	var err error

	switch source {
	case "yaml":
		underlying = NewYAMLRepository(cfg.Catalog, cfg.Currency)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, errors.New("postgres_url required when products.source is 'postgres'")
		}
		var pgRepo *PostgresRepository
		if sharedDB != nil {
			pgRepo = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			pgRepo, err = NewPostgresRepository(cfg.PostgresURL, cfg.PostgresPool)
			if err != nil {
				return nil, err
			}
		}
		if cfg.PostgresTableName != "" {
			pgRepo = pgRepo.WithTableName(cfg.PostgresTableName)
		}
		underlying = pgRepo
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, errors.New("mongodb_url required when products.source is 'mongodb'")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, errors.New("mongodb_database required when products.source is 'mongodb'")
		}
		collection := cfg.MongoDBCollection
		if collection == "" {
			collection = "products"
		}
		underlying, err = NewMongoDBRepository(cfg.MongoDBURL, cfg.MongoDBDatabase, collection)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("invalid products.source: must be 'yaml', 'postgres', or 'mongodb'")
	}

	cacheTTL := cfg.CacheTTL.Duration
	if cacheTTL > 0 {
		return NewCachedRepository(underlying, cacheTTL), nil
	}

	return underlying, nil
}

// Matches reports whether the product satisfies the search query. Only
// active products can match.
func (p Product) Matches(q Query) bool {
	if !p.Active {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) &&
			!strings.Contains(strings.ToLower(p.Category), needle) {
			return false
		}
	}
	if q.Category != "" {
		if !strings.Contains(strings.ToLower(p.Category), strings.ToLower(q.Category)) {
			return false
		}
	}
	return true
}

// Filter applies the query to an in-memory product slice, returning matches
// ordered by ID. Used by the YAML repository and the cached search path.
func Filter(all []Product, q Query) []Product {
	q = q.Normalized()

	matched := make([]Product, 0, len(all))
	for _, p := range all {
		if p.Matches(q) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

// applyListOptions slices an ID-ordered product list per the options.
func applyListOptions(all []Product, opts ListOptions) []Product {
	filtered := make([]Product, 0, len(all))
	for _, p := range all {
		if !opts.IncludeInactive && !p.Active {
			continue
		}
		filtered = append(filtered, p)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []Product{}
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered
}
