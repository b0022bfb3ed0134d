package enums

import "fmt"

// ReleaseCodeStatus tracks the buyer-held escrow release code.
type ReleaseCodeStatus string

const (
	ReleaseCodeStatusPending  ReleaseCodeStatus = "PENDING"
	ReleaseCodeStatusVerified ReleaseCodeStatus = "VERIFIED"
	ReleaseCodeStatusExpired  ReleaseCodeStatus = "EXPIRED"
)

var validReleaseCodeStatuses = []ReleaseCodeStatus{
	ReleaseCodeStatusPending,
	ReleaseCodeStatusVerified,
	ReleaseCodeStatusExpired,
}

// String implements fmt.Stringer.
func (r ReleaseCodeStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReleaseCodeStatus.
func (r ReleaseCodeStatus) IsValid() bool {
	for _, candidate := range validReleaseCodeStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReleaseCodeStatus converts raw input into a ReleaseCodeStatus.
func ParseReleaseCodeStatus(value string) (ReleaseCodeStatus, error) {
	for _, candidate := range validReleaseCodeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid release code status %q", value)
}
