package paygate

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// InitiateParams carries everything one hosted-checkout initiation needs.
// OrderIDs/OrderNumbers travel as gateway metadata so webhook payloads can be
// correlated back to our records.
type InitiateParams struct {
	TxRef        string
	AmountCents  int64
	Currency     string
	Email        string
	PhoneNumber  string
	FullName     string
	UserID       string
	OrderIDs     []string
	OrderNumbers []string
	Title        string
	Description  string
}

// InitiateResult is the hosted checkout handle returned by the gateway.
type InitiateResult struct {
	TxRef       string
	CheckoutURL string
}

// VerifyResult is the gateway's authoritative view of one transaction.
type VerifyResult struct {
	TxRef            string
	Status           string
	AmountCents      int64
	Currency         string
	Channel          string
	AuthorizationRef string
}

// IsSuccessful reports whether the gateway settled the charge.
func (v *VerifyResult) IsSuccessful() bool {
	return v != nil && v.Status == StatusSuccessful
}

// IsFailed reports whether the gateway definitively failed the charge.
func (v *VerifyResult) IsFailed() bool {
	return v != nil && v.Status == StatusFailed
}

// DisburseParams describes one mobile-money payout.
type DisburseParams struct {
	TxRef       string
	AmountCents int64
	Currency    string
	Phone       string
	Network     string
	Narration   string
}

// DisburseResult is the gateway's payout acknowledgement.
type DisburseResult struct {
	Reference string
}

// WebhookPayload is the low-trust body the gateway posts to our webhook. It
// triggers reconciliation but is never acted on without re-verification.
type WebhookPayload struct {
	TxRef    string      `json:"tx_ref"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

type initiateRequest struct {
	TxRef       string           `json:"tx_ref"`
	Amount      string           `json:"amount"`
	Currency    string           `json:"currency"`
	RedirectURL string           `json:"redirect_url"`
	CallbackURL string           `json:"callback_url"`
	Customer    initiateCustomer `json:"customer"`
	Custom      initiateCustom   `json:"customizations"`
	Meta        map[string]any   `json:"meta"`
}

type initiateCustomer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber"`
	Name        string `json:"name"`
}

type initiateCustom struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type disburseRequest struct {
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	AccountNumber string `json:"account_number"`
	Network       string `json:"network"`
	Narration     string `json:"narration"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initiateData struct {
	TxRef string `json:"tx_ref"`
	Link  string `json:"link"`
}

type verifyData struct {
	TxRef            string      `json:"tx_ref"`
	Status           string      `json:"status"`
	Amount           json.Number `json:"amount"`
	Currency         string      `json:"currency"`
	PaymentType      string      `json:"payment_type"`
	AuthorizationRef string      `json:"authorization_ref"`
}

type disburseData struct {
	Reference string `json:"reference"`
}

// amountToWire converts integer cents to the gateway's major-unit string.
func amountToWire(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).String()
}

// amountFromWire converts a gateway major-unit amount back into cents.
func amountFromWire(amount json.Number) (int64, error) {
	if amount.String() == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(amount.String())
	if err != nil {
		return 0, err
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}
