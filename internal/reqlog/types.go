// Package reqlog records inbound protocol traffic for the dashboard:
// every UCP and AP2 request is captured by middleware, enriched by the
// handler through a per-request context slot, and persisted
// asynchronously. Recording never fails a request.
package reqlog

import (
	"strings"
	"time"
)

// Kind partitions the log into the two protocol surfaces.
type Kind string

const (
	KindUCP Kind = "ucp"
	KindAP2 Kind = "ap2"
)

// Entry is one recorded request. AP2 entries carry the extra message
// fields; UCP entries leave them empty. Signature fields hold truncated
// prefixes only — full signatures are never persisted.
type Entry struct {
	ID           string    `json:"id" bson:"_id"`
	Kind         Kind      `json:"kind" bson:"kind"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	Endpoint     string    `json:"endpoint" bson:"endpoint"`
	Method       string    `json:"method" bson:"method"`
	Path         string    `json:"path" bson:"path"`
	Query        string    `json:"query,omitempty" bson:"query,omitempty"`
	Status       int       `json:"status" bson:"status"`
	RequestBody  string    `json:"request_body,omitempty" bson:"requestBody,omitempty"`
	ResponseBody string    `json:"response_body,omitempty" bson:"responseBody,omitempty"`
	ClientIP     string    `json:"client_ip" bson:"clientIp"`
	UserAgent    string    `json:"user_agent,omitempty" bson:"userAgent,omitempty"`
	DurationMS   int64     `json:"duration_ms" bson:"durationMs"`

	MessageType       string `json:"message_type,omitempty" bson:"messageType,omitempty"`
	MandateID         string `json:"mandate_id,omitempty" bson:"mandateId,omitempty"`
	RequestSignature  string `json:"request_signature,omitempty" bson:"requestSignature,omitempty"`
	ResponseSignature string `json:"response_signature,omitempty" bson:"responseSignature,omitempty"`
	PaymentStatus     string `json:"payment_status,omitempty" bson:"paymentStatus,omitempty"`
}

// Query filters and pages a log listing. Zero values mean "no filter".
// Endpoint matches as a substring; the other filters match exactly.
type Query struct {
	Kind        Kind
	Endpoint    string
	Method      string
	Status      int
	MessageType string
	MandateID   string
	Since       time.Time
	Limit       int
	Offset      int
}

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// Normalized clamps paging to sane bounds.
func (q Query) Normalized() Query {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// matches applies the non-paging filters to one entry.
func (q Query) matches(e Entry) bool {
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	if q.Endpoint != "" && !strings.Contains(e.Endpoint, q.Endpoint) {
		return false
	}
	if q.Method != "" && e.Method != q.Method {
		return false
	}
	if q.Status != 0 && e.Status != q.Status {
		return false
	}
	if q.MessageType != "" && e.MessageType != q.MessageType {
		return false
	}
	if q.MandateID != "" && e.MandateID != q.MandateID {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// Stats is the dashboard roll-up across both log kinds.
type Stats struct {
	TotalUCP           int64            `json:"total_ucp_requests"`
	TotalAP2           int64            `json:"total_ap2_requests"`
	SuccessfulPayments int64            `json:"successful_payments"`
	ByEndpoint         map[string]int64 `json:"by_endpoint"`
	ByStatus           map[string]int64 `json:"by_status"`
	ErrorCount         int64            `json:"error_count"`
	AvgDurationMS      float64          `json:"avg_duration_ms"`
	OldestEntry        *time.Time       `json:"oldest_entry,omitempty"`
	NewestEntry        *time.Time       `json:"newest_entry,omitempty"`
}
