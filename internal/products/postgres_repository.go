package products

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/money"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db        *sql.DB
	ownsDB    bool             // Track if we created the DB connection (for Close())
	metrics   *metrics.Metrics // Optional: Prometheus metrics collector
	tableName string           // Configurable table name (default: "products")
}

// Query timeout constants
const (
	queryTimeoutGet  = 5 * time.Second  // Timeout for single-row queries
	queryTimeoutList = 10 * time.Second // Timeout for list queries
)

// Input validation constraints
const maxIDLength = 255

var validTableNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// validateID validates product ID / SKU inputs.
func validateID(id string) error {
	if len(id) == 0 || len(id) > maxIDLength {
		return fmt.Errorf("invalid product identifier length: must be between 1 and %d characters", maxIDLength)
	}
	return nil
}

// validateTableName ensures table name is safe from SQL injection.
func validateTableName(name string) error {
	if !validTableNameRegex.MatchString(name) {
		return fmt.Errorf("invalid table name: %s (must be alphanumeric with underscores only)", name)
	}
	return nil
}

// withQueryTimeout adds a timeout to the context if not already set.
func withQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

const productColumns = `id, sku, name, description, price_cents, currency, category, brand,
	       image_url, availability, condition, active, created_at, updated_at`

// NewPostgresRepository creates a PostgreSQL-backed repository.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &PostgresRepository{db: db, ownsDB: true, tableName: "products"}, nil
}

// NewPostgresRepositoryWithDB creates a PostgreSQL-backed repository using an
// existing connection pool, allowing a single pool to be shared across
// repositories.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, ownsDB: false, tableName: "products"}
}

// WithTableName sets a custom table name. Validates the table name to
// prevent SQL injection.
func (r *PostgresRepository) WithTableName(tableName string) *PostgresRepository {
	if tableName != "" {
		if err := validateTableName(tableName); err != nil {
			panic(fmt.Sprintf("invalid table name: %v", err))
		}
		r.tableName = tableName
	}
	return r
}

// WithMetrics adds metrics collection to the repository.
func (r *PostgresRepository) WithMetrics(m *metrics.Metrics) *PostgresRepository {
	r.metrics = m
	return r
}

// scanProduct reads one product row. The row must select productColumns in
// order.
func scanProduct(scan func(...any) error) (Product, error) {
	var p Product
	var priceCents int64
	var currency string

	err := scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Description,
		&priceCents,
		&currency,
		&p.Category,
		&p.Brand,
		&p.ImageURL,
		&p.Availability,
		&p.Condition,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Product{}, err
	}

	p.Price = money.FromMinorUnits(currency, priceCents)
	return p, nil
}

// GetProduct retrieves a product by ID, including inactive products.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (Product, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_product", "postgres")()

	if err := validateID(id); err != nil {
		return Product{}, err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`,
		productColumns, pq.QuoteIdentifier(r.tableName))

	p, err := scanProduct(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, id).Scan(dest...)
	})
	if err == sql.ErrNoRows {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

// GetProductBySKU retrieves a product by SKU, including inactive products.
func (r *PostgresRepository) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_product_by_sku", "postgres")()

	if err := validateID(sku); err != nil {
		return Product{}, err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE sku = $1 LIMIT 1`,
		productColumns, pq.QuoteIdentifier(r.tableName))

	p, err := scanProduct(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, sku).Scan(dest...)
	})
	if err == sql.ErrNoRows {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("query product by sku: %w", err)
	}
	return p, nil
}

// SearchProducts returns active products matching the query, ordered by ID.
func (r *PostgresRepository) SearchProducts(ctx context.Context, q Query) ([]Product, error) {
	defer metrics.MeasureDBQuery(r.metrics, "search_products", "postgres")()

	q = q.Normalized()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE active = true`,
		productColumns, pq.QuoteIdentifier(r.tableName))
	var args []any

	if q.Text != "" {
		args = append(args, "%"+q.Text+"%")
		n := len(args)
		query += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d OR category ILIKE $%d)", n, n, n)
	}
	if q.Category != "" {
		args = append(args, "%"+q.Category+"%")
		query += fmt.Sprintf(" AND category ILIKE $%d", len(args))
	}

	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", len(args))

	return r.queryProducts(ctx, query, args...)
}

// ListProducts returns products ordered by ID.
func (r *PostgresRepository) ListProducts(ctx context.Context, opts ListOptions) ([]Product, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_products", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s`, productColumns, pq.QuoteIdentifier(r.tableName))
	if !opts.IncludeInactive {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY id ASC`

	var args []any
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.queryProducts(ctx, query, args...)
}

func (r *PostgresRepository) queryProducts(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var result []Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return result, nil
}

// CreateProduct creates a new product.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p Product) error {
	defer metrics.MeasureDBQuery(r.metrics, "create_product", "postgres")()

	if err := validateID(p.ID); err != nil {
		return err
	}
	if err := validateID(p.SKU); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	if p.Availability == "" {
		p.Availability = DefaultAvailability
	}
	if p.Condition == "" {
		p.Condition = DefaultCondition
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, sku, name, description, price_cents, currency, category, brand,
		                image_url, availability, condition, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, pq.QuoteIdentifier(r.tableName))

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.SKU,
		p.Name,
		p.Description,
		p.Price.MinorUnits(),
		p.Price.Currency,
		p.Category,
		p.Brand,
		p.ImageURL,
		p.Availability,
		p.Condition,
		p.Active,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSKUExists
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return nil
}

// UpdateProduct updates an existing product.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p Product) error {
	defer metrics.MeasureDBQuery(r.metrics, "update_product", "postgres")()

	if err := validateID(p.ID); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	p.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $2, description = $3, price_cents = $4, currency = $5, category = $6,
		    brand = $7, image_url = $8, availability = $9, condition = $10, active = $11,
		    updated_at = $12
		WHERE id = $1
	`, pq.QuoteIdentifier(r.tableName))

	result, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Price.MinorUnits(),
		p.Price.Currency,
		p.Category,
		p.Brand,
		p.ImageURL,
		p.Availability,
		p.Condition,
		p.Active,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrProductNotFound
	}

	return nil
}

// DeleteProduct soft-deletes a product (sets active = false).
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id string) error {
	defer metrics.MeasureDBQuery(r.metrics, "delete_product", "postgres")()

	if err := validateID(id); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET active = false, updated_at = $2 WHERE id = $1`,
		pq.QuoteIdentifier(r.tableName))

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrProductNotFound
	}

	return nil
}

// Close closes the database connection only if this repository owns it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
