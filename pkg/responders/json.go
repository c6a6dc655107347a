// Package responders holds small HTTP response helpers shared by the
// merchant and shopper servers.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes payload as an application/json response. HTML escaping is
// off: discovery payloads carry URLs and the wire shapes are consumed
// by agents, not browsers.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
