package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/reqlog"
)

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// respondJSON writes a JSON payload and deposits the serialized bytes in
// the request log capture slot, so the dashboard shows exactly what was
// sent on the wire.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("httpserver.encode_response_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternal, "internal error")
		return
	}
	reqlog.SetResponseBody(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// queryInt parses an integer query parameter, falling back to def when
// the parameter is absent or malformed.
func queryInt(values url.Values, name string, def int) int {
	raw := values.Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
