package httpserver

import (
	"net/http"
	"time"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/products"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

// searchProducts serves the UCP product search capability. Prices go out
// in minor units.
func (h handlers) searchProducts(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	params := r.URL.Query()

	query := products.Query{
		Text:     params.Get("q"),
		Category: params.Get("category"),
	}
	if raw := params.Get("limit"); raw != "" {
		n := queryInt(params, "limit", -1)
		if n < 0 {
			log.Warn().Str("limit", raw).Msg("products.search.invalid_limit")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "limit must be a non-negative integer")
			return
		}
		query.Limit = n
	}

	start := time.Now()
	results, err := h.products.SearchProducts(r.Context(), query)
	if err != nil {
		log.Error().Err(err).Msg("products.search.failed")
		apierrors.WriteFromErr(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveProductSearch(h.cfg.Products.Source, time.Since(start))
	}

	items := make([]ucp.ProductItem, 0, len(results))
	for _, p := range results {
		items = append(items, ucp.ProductItem{
			ID:          p.ID,
			Title:       p.Name,
			Price:       p.Price.MinorUnits(),
			ImageURL:    p.ImageURL,
			Description: p.Description,
		})
	}

	log.Debug().
		Str("q", query.Text).
		Str("category", query.Category).
		Int("results", len(items)).
		Msg("products.search.success")

	respondJSON(w, r, http.StatusOK, ucp.SearchResponse{Items: items, Total: len(items)})
}
