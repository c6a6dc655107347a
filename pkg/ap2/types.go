// Package ap2 defines the Agent Payments Protocol (AP2) wire types: the
// payment mandate carried inside UCP checkout sessions, the receipt the
// merchant issues as its single commit point, and the step-up challenge
// envelope. Both services marshal these shapes verbatim; the canonical
// signing digest over mandate contents lives in canonical.go.
package ap2

// PaymentCurrencyAmount is a monetary value with its currency.
type PaymentCurrencyAmount struct {
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
}

// PaymentItem is a labelled amount inside payment details.
type PaymentItem struct {
	Label  string                `json:"label"`
	Amount PaymentCurrencyAmount `json:"amount"`
}

// CardDetails carries the per-transaction card material inside a payment
// response. Only token, cryptogram, last-four, and network ever cross the
// shopper→merchant boundary; the PAN never appears here.
type CardDetails struct {
	Token        string `json:"token"`                  // 16 decimal digits
	TokenExpiry  string `json:"token_expiry,omitempty"` // MM/YY
	Cryptogram   string `json:"cryptogram"`             // 32 uppercase hex
	CardLastFour string `json:"card_last_four"`         // 4 digits
	CardNetwork  string `json:"card_network"`           // visa|mastercard|amex|discover
}

// PaymentResponse is the consumer's answer to the payment request.
type PaymentResponse struct {
	RequestID  string      `json:"request_id"`
	MethodName string      `json:"method_name"` // "CARD"
	Details    CardDetails `json:"details"`
	PayerEmail string      `json:"payer_email"`
	PayerName  string      `json:"payer_name,omitempty"`
}

// PaymentMandateContents is the signed portion of a mandate. The user's
// device signs the canonical JSON encoding of this struct.
type PaymentMandateContents struct {
	PaymentMandateID    string          `json:"payment_mandate_id"` // PM-<16 hex upper>
	Timestamp           string          `json:"timestamp"`          // UTC, RFC 3339
	PaymentDetailsID    string          `json:"payment_details_id"` // REQ-<12 hex upper>
	PaymentDetailsTotal PaymentItem     `json:"payment_details_total"`
	PaymentResponse     PaymentResponse `json:"payment_response"`
	MerchantAgent       string          `json:"merchant_agent"`
}

// PaymentMandate is the full AP2 mandate: contents plus the device-bound
// user signature over their canonical encoding.
type PaymentMandate struct {
	PaymentMandateContents PaymentMandateContents `json:"payment_mandate_contents"`
	UserAuthorization      string                 `json:"user_authorization,omitempty"` // URL-safe base64
}

// Receipt status codes.
const (
	StatusSuccess     = "SUCCESS"
	StatusOTPRequired = "OTP_REQUIRED"
)

// OTPRequiredPrefix marks a receipt error_message that carries a step-up
// challenge rather than a terminal failure.
const OTPRequiredPrefix = "OTP_REQUIRED:"

// PaymentStatus is the status block of a receipt. Exactly one of the
// success confirmation ids or the error message is populated.
type PaymentStatus struct {
	Code                   string `json:"code"` // SUCCESS | OTP_REQUIRED | error kind
	MerchantConfirmationID string `json:"merchant_confirmation_id,omitempty"`
	PSPConfirmationID      string `json:"psp_confirmation_id,omitempty"`
	NetworkConfirmationID  string `json:"network_confirmation_id,omitempty"`
	ErrorMessage           string `json:"error_message,omitempty"`
}

// IsSuccess reports whether the receipt recorded a captured payment.
func (s PaymentStatus) IsSuccess() bool {
	return s.Code == StatusSuccess
}

// PaymentReceipt is the merchant's terminal statement about a payment
// attempt. Receipt issuance is the single commit point: every terminal
// decision produces exactly one receipt.
type PaymentReceipt struct {
	PaymentMandateID     string                 `json:"payment_mandate_id"`
	Timestamp            string                 `json:"timestamp"`
	PaymentID            string                 `json:"payment_id"`
	Amount               PaymentCurrencyAmount  `json:"amount"`
	PaymentStatus        PaymentStatus          `json:"payment_status"`
	PaymentMethodDetails map[string]interface{} `json:"payment_method_details,omitempty"`
	MerchantSignature    string                 `json:"merchant_signature,omitempty"` // URL-safe base64
}

// OTPChallenge is the step-up envelope returned when risk policy demands
// an additional code from the user.
type OTPChallenge struct {
	PaymentMandateID string `json:"payment_mandate_id"`
	Message          string `json:"message"`
	OTPSentTo        string `json:"otp_sent_to,omitempty"`
}

// OTPVerification is the user's answer to a step-up challenge.
type OTPVerification struct {
	PaymentMandateID string `json:"payment_mandate_id"`
	OTPCode          string `json:"otp_code"`
}
