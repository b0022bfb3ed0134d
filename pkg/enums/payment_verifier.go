package enums

// PaymentVerifier records which reconciliation channel settled a payment.
type PaymentVerifier string

const (
	PaymentVerifierWebhook PaymentVerifier = "webhook"
	PaymentVerifierSweep   PaymentVerifier = "sweep"
	PaymentVerifierManual  PaymentVerifier = "manual"
)

// String implements fmt.Stringer.
func (p PaymentVerifier) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentVerifier.
func (p PaymentVerifier) IsValid() bool {
	switch p {
	case PaymentVerifierWebhook, PaymentVerifierSweep, PaymentVerifierManual:
		return true
	default:
		return false
	}
}
