package promocodes

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AgentCommerce/ucp/internal/config"
)

// YAMLRepository implements Repository using in-memory YAML config.
// It is read-only: usage counts are not tracked across completions, which
// only matters for codes that configure a usage_limit.
type YAMLRepository struct {
	byCode map[string]Promocode
	byID   map[string]string // id → code
}

// NewYAMLRepository creates a repository from YAML config. Validity windows
// expressed as valid_for durations are anchored to service start.
func NewYAMLRepository(codes map[string]config.PromocodeSeed) *YAMLRepository {
	now := time.Now()
	byCode := make(map[string]Promocode, len(codes))
	byID := make(map[string]string, len(codes))

	for key, seed := range codes {
		promo := seedToPromocode(key, seed, now)

		// Warn about codes with usage_limit set
		if promo.UsageLimit != nil && *promo.UsageLimit > 0 {
			log.Warn().
				Str("promocode", promo.Code).
				Int("usage_limit", *promo.UsageLimit).
				Msg("yaml_promocode.usage_limit_not_tracked")
		}

		byCode[promo.Code] = promo
		byID[promo.ID] = promo.Code
	}

	return &YAMLRepository{
		byCode: byCode,
		byID:   byID,
	}
}

// seedToPromocode converts a config.PromocodeSeed to a Promocode.
func seedToPromocode(key string, seed config.PromocodeSeed, now time.Time) Promocode {
	code := seed.Code
	if code == "" {
		code = key
	}
	code = NormalizeCode(code)

	active := true
	if seed.Active != nil {
		active = *seed.Active
	}

	validUntil := parseTime(seed.ExpiresAt)
	if validUntil == nil && seed.ValidFor.Duration > 0 {
		until := now.Add(seed.ValidFor.Duration)
		validUntil = &until
	}

	return Promocode{
		ID:                NewID(),
		Code:              code,
		Description:       seed.Description,
		DiscountType:      DiscountType(seed.DiscountType),
		DiscountValue:     seed.DiscountValue,
		Currency:          seed.Currency,
		MinPurchaseAmount: seed.MinPurchaseAmount,
		MaxDiscountAmount: seed.MaxDiscountAmount,
		UsageLimit:        seed.UsageLimit,
		ValidFrom:         parseTime(seed.StartsAt),
		ValidUntil:        validUntil,
		Active:            active,
	}
}

// parseTime converts an RFC3339 timestamp string to *time.Time.
// Returns nil if the string is empty or invalid.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// GetByCode retrieves a promocode by its uppercase code.
func (r *YAMLRepository) GetByCode(_ context.Context, code string) (Promocode, error) {
	promo, ok := r.byCode[NormalizeCode(code)]
	if !ok {
		return Promocode{}, ErrPromocodeNotFound
	}
	return promo, nil
}

// GetByID retrieves a promocode by id.
func (r *YAMLRepository) GetByID(_ context.Context, id string) (Promocode, error) {
	code, ok := r.byID[id]
	if !ok {
		return Promocode{}, ErrPromocodeNotFound
	}
	return r.byCode[code], nil
}

// List returns promocodes ordered by code.
func (r *YAMLRepository) List(_ context.Context, opts ListOptions) ([]Promocode, error) {
	promos := make([]Promocode, 0, len(r.byCode))
	for _, promo := range r.byCode {
		promos = append(promos, promo)
	}
	sortByCode(promos)
	return applyListOptions(promos, opts), nil
}

// Create is not supported for YAML repository (read-only).
func (r *YAMLRepository) Create(_ context.Context, _ Promocode) error {
	return errors.New("yaml repository is read-only")
}

// Update is not supported for YAML repository (read-only).
func (r *YAMLRepository) Update(_ context.Context, _ Promocode) error {
	return errors.New("yaml repository is read-only")
}

// IncrementUsage is not supported for YAML repository (read-only).
func (r *YAMLRepository) IncrementUsage(_ context.Context, _ string) error {
	return errors.New("yaml repository is read-only")
}

// Delete is not supported for YAML repository (read-only).
func (r *YAMLRepository) Delete(_ context.Context, _ string) error {
	return errors.New("yaml repository is read-only")
}

// Close is a no-op for YAML repository.
func (r *YAMLRepository) Close() error {
	return nil
}
