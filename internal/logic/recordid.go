package logic

import (
	"fmt"
	"strings"
	"time"
)

// RecordPrefix returns the "product-date-machine" part of a record id.
// The date is the UTC calendar day formatted dd-mm-yyyy.
func RecordPrefix(productCode, machineCode string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s",
		strings.TrimSpace(productCode),
		at.UTC().Format("02-01-2006"),
		strings.TrimSpace(machineCode))
}

// RecordID appends a 1-based sequence number to a prefix.
func RecordID(prefix string, seq int) string {
	return fmt.Sprintf("%s-%d", prefix, seq)
}
