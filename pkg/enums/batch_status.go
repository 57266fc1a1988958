package enums

import "fmt"

// BatchStatus maps to the batch_status enum in Postgres.
type BatchStatus string

const (
	BatchStatusActive    BatchStatus = "active"
	BatchStatusExhausted BatchStatus = "exhausted"
)

var validBatchStatuses = []BatchStatus{
	BatchStatusActive,
	BatchStatusExhausted,
}

// String implements fmt.Stringer.
func (s BatchStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known BatchStatus.
func (s BatchStatus) IsValid() bool {
	for _, candidate := range validBatchStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBatchStatus converts raw input into a BatchStatus.
func ParseBatchStatus(value string) (BatchStatus, error) {
	for _, candidate := range validBatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid batch status %q", value)
}

// BatchStatusFor derives the informational status from a remaining quantity.
func BatchStatusFor(remaining int) BatchStatus {
	if remaining <= 0 {
		return BatchStatusExhausted
	}
	return BatchStatusActive
}
