package ucp

import (
	"regexp"

	"github.com/AgentCommerce/ucp/pkg/ap2"
)

// versionPattern matches UCP date versions (e.g. "2026-01-11").
var versionPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidVersion reports whether s is a well-formed UCP date version.
func ValidVersion(s string) bool {
	return versionPattern.MatchString(s)
}

// ===============================================
// Discovery profile (/.well-known/ucp)
// ===============================================

// Profile is the discovery document a merchant serves at /.well-known/ucp.
type Profile struct {
	UCP      ProfileUCP     `json:"ucp"`
	Payment  PaymentProfile `json:"payment"`
	Merchant Merchant       `json:"merchant"`
}

// ProfileUCP is the protocol block of the discovery profile.
type ProfileUCP struct {
	Version      string             `json:"version"`
	Services     map[string]Service `json:"services"`
	Capabilities []Capability       `json:"capabilities"`
	Extensions   []string           `json:"extensions,omitempty"`
}

// Service describes one UCP service and its transports.
type Service struct {
	Version string         `json:"version"`
	Spec    string         `json:"spec,omitempty"`
	REST    *RESTTransport `json:"rest,omitempty"`
	A2A     *A2ATransport  `json:"a2a,omitempty"`
}

// RESTTransport carries the REST endpoint for a service.
type RESTTransport struct {
	Schema   string `json:"schema,omitempty"`
	Endpoint string `json:"endpoint"` // absolute URL of /ucp/v1
}

// A2ATransport points at the agent card for agent-to-agent discovery.
type A2ATransport struct {
	AgentCard string `json:"agent_card"`
	Transport string `json:"transport"`
}

// Capability describes one capability, optionally with extensions keyed
// by extension name.
type Capability struct {
	Name       string               `json:"name"`
	Version    string               `json:"version"`
	Spec       string               `json:"spec,omitempty"`
	Schema     string               `json:"schema,omitempty"`
	Extensions map[string]Extension `json:"extensions,omitempty"`
}

// Extension describes a capability extension. The discount extension
// carries extra feature flags beyond the common fields.
type Extension struct {
	Version            string `json:"version"`
	Spec               string `json:"spec,omitempty"`
	Schema             string `json:"schema,omitempty"`
	Supported          *bool  `json:"supported,omitempty"`
	SupportsPromocodes *bool  `json:"supports_promocodes,omitempty"`
}

// PaymentProfile advertises payment protocol support.
type PaymentProfile struct {
	AP2Payment AP2PaymentProfile `json:"ap2_payment"`
}

// AP2PaymentProfile advertises AP2 mandate support.
type AP2PaymentProfile struct {
	SupportedFormats         []string `json:"supported_formats"`
	MandatesSupported        bool     `json:"mandates_supported"`
	OTPVerificationSupported bool     `json:"otp_verification_supported"`
}

// Merchant identifies the merchant serving the profile.
type Merchant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// AgentCard is the agent-to-agent discovery document served at
// /.well-known/ucp/agent-card.
type AgentCard struct {
	Agent              AgentInfo             `json:"agent"`
	Extensions         []string              `json:"extensions,omitempty"`
	Capabilities       AgentCardCapabilities `json:"capabilities"`
	SupportedProtocols []string              `json:"supported_protocols"`
	MerchantID         string                `json:"merchant_id"`
}

// AgentInfo names the merchant agent.
type AgentInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// AgentCardCapabilities lists what the merchant agent can do.
type AgentCardCapabilities struct {
	Checkout bool `json:"checkout"`
}

// ===============================================
// Product search (/ucp/products/search)
// ===============================================

// ProductItem is one search result. Price is an integer in minor
// currency units (cents).
type ProductItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Price       int64  `json:"price"`
	ImageURL    string `json:"image_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// SearchResponse is the product search result envelope.
type SearchResponse struct {
	Items []ProductItem `json:"items"`
	Total int           `json:"total"`
}

// ===============================================
// Checkout sessions (/ucp/v1/checkout-sessions)
// ===============================================

// LineItem is one cart entry.
type LineItem struct {
	SKU      string  `json:"sku" validate:"required"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price" validate:"gte=0"`
	Quantity int     `json:"quantity" validate:"gt=0"`
}

// CheckoutCreateRequest opens a new checkout session.
type CheckoutCreateRequest struct {
	LineItems  []LineItem `json:"line_items" validate:"required,min=1,dive"`
	BuyerEmail string     `json:"buyer_email" validate:"required,email"`
	Currency   string     `json:"currency" validate:"required,len=3"`
	Promocode  string     `json:"promocode,omitempty"`
}

// CheckoutUpdateRequest attaches a signed mandate (and/or promocode) to
// an existing session.
type CheckoutUpdateRequest struct {
	PaymentMandate *ap2.PaymentMandate `json:"payment_mandate,omitempty"`
	UserSignature  string              `json:"user_signature,omitempty"`
	Promocode      string              `json:"promocode,omitempty"`
}

// Totals is the session's money summary. All values are major units
// bankers-rounded to 2 decimals.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// AppliedPromocode echoes the discount applied at create/update time.
type AppliedPromocode struct {
	Code           string  `json:"code"`
	Description    string  `json:"description,omitempty"`
	DiscountType   string  `json:"discount_type"`
	DiscountValue  float64 `json:"discount_value"`
	DiscountAmount float64 `json:"discount_amount"`
}

// CheckoutSession is the session snapshot returned by every checkout
// operation.
type CheckoutSession struct {
	ID             string              `json:"id"`
	Status         string              `json:"status"`
	LineItems      []LineItem          `json:"line_items"`
	BuyerEmail     string              `json:"buyer_email"`
	Totals         Totals              `json:"totals"`
	Promocode      *AppliedPromocode   `json:"promocode,omitempty"`
	PromocodeError string              `json:"promocode_error,omitempty"`
	PaymentMandate *ap2.PaymentMandate `json:"payment_mandate,omitempty"`
	UserSignature  string              `json:"user_signature,omitempty"`
	OTPChallenge   *ap2.OTPChallenge   `json:"otp_challenge,omitempty"`
	Receipt        *ap2.PaymentReceipt `json:"receipt,omitempty"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at,omitempty"`
	CompletedAt    string              `json:"completed_at,omitempty"`
}

// CompleteResponse is the envelope returned by Complete: the outcome
// status, the session snapshot, and either a receipt or a challenge.
type CompleteResponse struct {
	Status       string              `json:"status"` // success | otp_required | failed
	Checkout     *CheckoutSession    `json:"checkout"`
	Receipt      *ap2.PaymentReceipt `json:"receipt,omitempty"`
	OTPChallenge *ap2.OTPChallenge   `json:"otp_challenge,omitempty"`
	Message      string              `json:"message,omitempty"`
}
