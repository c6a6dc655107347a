package promocodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/AgentCommerce/ucp/internal/config"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// promocodeColumns lists the columns scanned for every read.
const promocodeColumns = `id, code, description, discount_type, discount_value, currency,
       min_purchase_amount, max_discount_amount, usage_limit, usage_count,
       valid_from, valid_until, active, created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db        *sql.DB
	ownsDB    bool   // Track if we created the DB connection (for Close())
	tableName string // Configurable table name (default: "promocodes")
}

// NewPostgresRepository creates a PostgreSQL-backed repository.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// Apply connection pool settings from config
	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &PostgresRepository{db: db, ownsDB: true, tableName: "promocodes"}, nil
}

// NewPostgresRepositoryWithDB creates a PostgreSQL-backed repository using an
// existing connection pool, allowing one pool to serve multiple repositories.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, ownsDB: false, tableName: "promocodes"}
}

// WithTableName sets a custom table name.
func (r *PostgresRepository) WithTableName(tableName string) *PostgresRepository {
	if tableName != "" {
		r.tableName = tableName
	}
	return r
}

// scanPromocode reads one row into a Promocode.
func scanPromocode(scan func(...any) error) (Promocode, error) {
	var p Promocode
	var discountType string

	err := scan(
		&p.ID,
		&p.Code,
		&p.Description,
		&discountType,
		&p.DiscountValue,
		&p.Currency,
		&p.MinPurchaseAmount,
		&p.MaxDiscountAmount,
		&p.UsageLimit,
		&p.UsageCount,
		&p.ValidFrom,
		&p.ValidUntil,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Promocode{}, err
	}

	p.DiscountType = DiscountType(discountType)
	return p, nil
}

// GetByCode retrieves a promocode by its uppercase code, active or not.
func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (Promocode, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE code = $1`, promocodeColumns, r.tableName)

	row := r.db.QueryRowContext(ctx, query, NormalizeCode(code))
	p, err := scanPromocode(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Promocode{}, ErrPromocodeNotFound
	}
	if err != nil {
		return Promocode{}, fmt.Errorf("query promocode: %w", err)
	}

	return p, nil
}

// GetByID retrieves a promocode by id, active or not.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (Promocode, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, promocodeColumns, r.tableName)

	row := r.db.QueryRowContext(ctx, query, id)
	p, err := scanPromocode(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Promocode{}, ErrPromocodeNotFound
	}
	if err != nil {
		return Promocode{}, fmt.Errorf("query promocode: %w", err)
	}

	return p, nil
}

// List returns promocodes ordered by code.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]Promocode, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s`, promocodeColumns, r.tableName)
	if !opts.IncludeInactive {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY code ASC`

	args := make([]any, 0, 2)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query promocodes: %w", err)
	}
	defer rows.Close()

	var promos []Promocode
	for rows.Next() {
		p, err := scanPromocode(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan promocode: %w", err)
		}
		promos = append(promos, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promocodes: %w", err)
	}

	return promos, nil
}

// Create stores a new promocode.
func (r *PostgresRepository) Create(ctx context.Context, p Promocode) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	p.Code = NormalizeCode(p.Code)
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, code, description, discount_type, discount_value, currency,
		                min_purchase_amount, max_discount_amount, usage_limit, usage_count,
		                valid_from, valid_until, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.tableName)

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Code,
		p.Description,
		string(p.DiscountType),
		p.DiscountValue,
		p.Currency,
		p.MinPurchaseAmount,
		p.MaxDiscountAmount,
		p.UsageLimit,
		p.UsageCount,
		p.ValidFrom,
		p.ValidUntil,
		p.Active,
		p.CreatedAt,
		p.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrCodeExists
	}
	if err != nil {
		return fmt.Errorf("insert promocode: %w", err)
	}

	return nil
}

// Update replaces an existing promocode by id.
func (r *PostgresRepository) Update(ctx context.Context, p Promocode) error {
	p.Code = NormalizeCode(p.Code)
	p.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
		UPDATE %s
		SET code = $2, description = $3, discount_type = $4, discount_value = $5,
		    currency = $6, min_purchase_amount = $7, max_discount_amount = $8,
		    usage_limit = $9, usage_count = $10, valid_from = $11, valid_until = $12,
		    active = $13, updated_at = $14
		WHERE id = $1
	`, r.tableName)

	result, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Code,
		p.Description,
		string(p.DiscountType),
		p.DiscountValue,
		p.Currency,
		p.MinPurchaseAmount,
		p.MaxDiscountAmount,
		p.UsageLimit,
		p.UsageCount,
		p.ValidFrom,
		p.ValidUntil,
		p.Active,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update promocode: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPromocodeNotFound
	}

	return nil
}

// IncrementUsage atomically increments the usage count.
func (r *PostgresRepository) IncrementUsage(ctx context.Context, code string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET usage_count = usage_count + 1, updated_at = $2
		WHERE code = $1
	`, r.tableName)

	result, err := r.db.ExecContext(ctx, query, NormalizeCode(code), time.Now())
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPromocodeNotFound
	}

	return nil
}

// Delete soft-deletes a promocode (sets active = false).
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET active = false, updated_at = $2 WHERE id = $1`, r.tableName)

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("delete promocode: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPromocodeNotFound
	}

	return nil
}

// Close closes the database connection.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
