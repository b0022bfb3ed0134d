package enums

import "fmt"

// WalletTransactionType classifies a wallet ledger row.
type WalletTransactionType string

const (
	WalletTransactionTypeCredit WalletTransactionType = "CREDIT"
	WalletTransactionTypePayout WalletTransactionType = "PAYOUT"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTransactionTypeCredit,
	WalletTransactionTypePayout,
}

// String implements fmt.Stringer.
func (w WalletTransactionType) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WalletTransactionType.
func (w WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

// WalletTransactionStatus tracks whether a ledger row's money movement settled.
type WalletTransactionStatus string

const (
	WalletTransactionStatusPending   WalletTransactionStatus = "PENDING"
	WalletTransactionStatusCompleted WalletTransactionStatus = "COMPLETED"
	WalletTransactionStatusFailed    WalletTransactionStatus = "FAILED"
	WalletTransactionStatusCancelled WalletTransactionStatus = "CANCELLED"
)

var validWalletTransactionStatuses = []WalletTransactionStatus{
	WalletTransactionStatusPending,
	WalletTransactionStatusCompleted,
	WalletTransactionStatusFailed,
	WalletTransactionStatusCancelled,
}

// String implements fmt.Stringer.
func (w WalletTransactionStatus) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WalletTransactionStatus.
func (w WalletTransactionStatus) IsValid() bool {
	for _, candidate := range validWalletTransactionStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWalletTransactionType converts raw input into a WalletTransactionType.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}
