package httpserver

import (
	"net/http"
	"time"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/reqlog"
	"github.com/AgentCommerce/ucp/pkg/responders"
)

// logListing is the paged envelope returned by the log endpoints.
type logListing struct {
	Logs   []reqlog.Entry `json:"logs"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// dashboardUCPLogs lists recorded UCP requests, newest first.
// Supports ?limit=&offset=&endpoint_filter= (substring match).
func (h handlers) dashboardUCPLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	h.listLogs(w, r, reqlog.Query{
		Kind:     reqlog.KindUCP,
		Endpoint: params.Get("endpoint_filter"),
		Limit:    queryInt(params, "limit", 0),
		Offset:   queryInt(params, "offset", 0),
	})
}

// dashboardAP2Logs lists recorded AP2 exchanges, newest first.
// Supports ?limit=&offset=&message_type_filter=&mandate_id=.
func (h handlers) dashboardAP2Logs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	h.listLogs(w, r, reqlog.Query{
		Kind:        reqlog.KindAP2,
		MessageType: params.Get("message_type_filter"),
		MandateID:   params.Get("mandate_id"),
		Limit:       queryInt(params, "limit", 0),
		Offset:      queryInt(params, "offset", 0),
	})
}

func (h handlers) listLogs(w http.ResponseWriter, r *http.Request, q reqlog.Query) {
	q = q.Normalized()

	entries, total, err := h.logs.List(r.Context(), q)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("dashboard.list_logs.failed")
		apierrors.WriteFromErr(w, err)
		return
	}
	if entries == nil {
		entries = []reqlog.Entry{}
	}

	responders.JSON(w, http.StatusOK, logListing{
		Logs:   entries,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// dashboardStats serves the roll-up counters across both log kinds.
func (h handlers) dashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.logs.Stats(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("dashboard.stats.failed")
		apierrors.WriteFromErr(w, err)
		return
	}

	payload := struct {
		reqlog.Stats
		Timestamp string `json:"timestamp"`
	}{
		Stats:     stats,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	responders.JSON(w, http.StatusOK, payload)
}

// dashboardClearLogs wipes both log kinds.
func (h handlers) dashboardClearLogs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	removed, err := h.logs.Clear(r.Context(), "")
	if err != nil {
		log.Error().Err(err).Msg("dashboard.clear_logs.failed")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().Int64("removed", removed).Msg("dashboard.logs_cleared")

	responders.JSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "All logs cleared successfully",
		"removed":   removed,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
