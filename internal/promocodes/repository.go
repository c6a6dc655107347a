package promocodes

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/money"
)

// ErrPromocodeNotFound is returned when a promocode doesn't exist.
var ErrPromocodeNotFound = errors.New("promocode not found")

// ErrCodeExists is returned when creating a promocode whose code is taken.
var ErrCodeExists = errors.New("promocode code already exists")

// Validation errors are shown to shoppers verbatim on the checkout session,
// hence the sentence casing.
var (
	ErrNotActive         = errors.New("Promocode is not active")
	ErrUsageLimitReached = errors.New("Promocode has reached its usage limit")
	ErrNotYetValid       = errors.New("Promocode is not yet valid")
	ErrExpired           = errors.New("Promocode has expired")
)

// DiscountType represents how the discount is applied.
type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"   // Percentage off (0-100)
	DiscountTypeFixedAmount DiscountType = "fixed_amount" // Fixed amount off
)

// Valid reports whether the discount type is a known value.
func (t DiscountType) Valid() bool {
	return t == DiscountTypePercentage || t == DiscountTypeFixedAmount
}

// Promocode represents a discount code shoppers can apply at checkout.
type Promocode struct {
	ID                string       // Stable id (e.g., "PROMO-1A2B3C4D")
	Code              string       // Uppercase code shoppers enter (e.g., "SAVE10")
	Description       string       // Human-readable description
	DiscountType      DiscountType // "percentage" or "fixed_amount"
	DiscountValue     float64      // Percentage (0-100) or fixed amount
	Currency          string       // For fixed_amount discounts and messages
	MinPurchaseAmount *float64     // nil = no minimum
	MaxDiscountAmount *float64     // Cap for percentage discounts, nil = uncapped
	UsageLimit        *int         // nil = unlimited, N = max uses
	UsageCount        int          // Current usage count
	ValidFrom         *time.Time   // When the code becomes valid
	ValidUntil        *time.Time   // When the code expires
	Active            bool         // Enable/disable code
	CreatedAt         time.Time    // Creation timestamp
	UpdatedAt         time.Time    // Last update timestamp
}

// NewID returns a fresh promocode id: PROMO-<8 hex upper>.
func NewID() string {
	u := uuid.New()
	return "PROMO-" + strings.ToUpper(hex.EncodeToString(u[:4]))
}

// NormalizeCode returns the canonical uppercase form of a shopper-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate reports whether the promocode can be applied to a purchase of the
// given subtotal. A nil return means the code is applicable; otherwise the
// error message is the exact text surfaced to the shopper.
//
// The checks run in a fixed order so the most actionable message wins:
// active, usage limit, start of validity, expiry, minimum purchase.
func (p Promocode) Validate(subtotal money.Amount) error {
	if !p.Active {
		return ErrNotActive
	}

	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return ErrUsageLimitReached
	}

	now := time.Now()

	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return ErrNotYetValid
	}

	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return ErrExpired
	}

	if p.MinPurchaseAmount != nil {
		minPurchase := money.FromFloat(subtotal.Currency, *p.MinPurchaseAmount)
		if subtotal.LessThan(minPurchase) {
			currency := p.Currency
			if currency == "" {
				currency = subtotal.Currency
			}
			return fmt.Errorf("Minimum purchase amount of %s %.2f required", currency, *p.MinPurchaseAmount)
		}
	}

	return nil
}

// CalculateDiscount returns the discount amount for a purchase subtotal.
// Percentage discounts are capped at MaxDiscountAmount before rounding to
// two decimal places; fixed discounts never exceed the subtotal. Unknown
// discount types yield zero.
func (p Promocode) CalculateDiscount(subtotal money.Amount) money.Amount {
	switch p.DiscountType {
	case DiscountTypePercentage:
		pct := decimal.NewFromFloat(p.DiscountValue).Div(decimal.NewFromInt(100))
		discount := subtotal.Value.Mul(pct)
		if p.MaxDiscountAmount != nil {
			maxDiscount := decimal.NewFromFloat(*p.MaxDiscountAmount)
			if discount.GreaterThan(maxDiscount) {
				discount = maxDiscount
			}
		}
		return money.New(subtotal.Currency, discount).RoundBankers()
	case DiscountTypeFixedAmount:
		return money.FromFloat(subtotal.Currency, p.DiscountValue).Min(subtotal)
	default:
		return money.Zero(subtotal.Currency)
	}
}

// ListOptions controls listing pagination and inactive visibility.
type ListOptions struct {
	IncludeInactive bool // Include soft-deleted codes
	Offset          int  // Skip the first N codes
	Limit           int  // 0 = no limit
}

// Repository defines the interface for promocode storage.
type Repository interface {
	// GetByCode retrieves a promocode by its uppercase code, including
	// inactive ones; applicability is reported by Validate.
	GetByCode(ctx context.Context, code string) (Promocode, error)

	// GetByID retrieves a promocode by id, including inactive ones.
	GetByID(ctx context.Context, id string) (Promocode, error)

	// List returns promocodes ordered by code.
	List(ctx context.Context, opts ListOptions) ([]Promocode, error)

	// Create stores a new promocode. Returns ErrCodeExists when the code is
	// already taken.
	Create(ctx context.Context, promo Promocode) error

	// Update replaces an existing promocode by id.
	Update(ctx context.Context, promo Promocode) error

	// IncrementUsage atomically increments the usage count for a code.
	IncrementUsage(ctx context.Context, code string) error

	// Delete soft-deletes a promocode by id (sets active = false).
	Delete(ctx context.Context, id string) error

	// Close closes any open connections.
	Close() error
}

// NewRepository creates a promocode repository based on config.
func NewRepository(cfg config.PromocodesConfig) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil)
}

// NewRepositoryWithDB creates a promocode repository with an optional shared
// database pool. If sharedDB is provided (non-nil) for postgres sources, it
// will be used instead of creating a new connection.
func NewRepositoryWithDB(cfg config.PromocodesConfig, sharedDB *sql.DB) (Repository, error) {
	// Default to disabled if not specified
	source := cfg.Source
	if source == "" || source == "disabled" {
		return NewDisabledRepository(), nil
	}

	var underlying Repository
	var err error

	switch source {
	case "yaml":
		return NewYAMLRepository(cfg.Codes), nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, errors.New("postgres_url required when promocode source is 'postgres'")
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
	default:
		return nil, errors.New("invalid promocode source: must be 'yaml', 'postgres', or 'disabled'")
	}

	// Wrap with caching layer if TTL is configured (short cache for codes)
	cacheTTL := cfg.CacheTTL.Duration
	if cacheTTL > 0 {
		return NewCachedRepository(underlying, cacheTTL), nil
	}

	return underlying, nil
}

// sortByCode orders promocodes by code ascending.
func sortByCode(promos []Promocode) {
	sort.Slice(promos, func(i, j int) bool {
		return promos[i].Code < promos[j].Code
	})
}

// applyListOptions filters and paginates an already code-ordered slice.
func applyListOptions(promos []Promocode, opts ListOptions) []Promocode {
	filtered := make([]Promocode, 0, len(promos))
	for _, p := range promos {
		if !opts.IncludeInactive && !p.Active {
			continue
		}
		filtered = append(filtered, p)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []Promocode{}
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	return filtered
}
