package parser

import "strings"

// Notification texts that are never transactions: one-time codes,
// limit notices, peer-transfer chatter. Catching them here saves a
// classifier call; the verdict is cached like any other so repeats
// stay cheap either way.
var nonTransactionalMarkers = []string{
	"OTP",
	"CODE:",
	"PASS:",
	"PASS=",
	"NOT ENOUGH FUNDS",
	"INSUFFICIENT FUNDS",
	"CREDIT PAYMENT",
	"C2C RECEIVED",
	"DAILY LIMIT EXCEEDED",
	"PERSON TO PERSON",
}

// isNonTransactional reports whether the message body is a known
// non-transaction notification.
func isNonTransactional(body string) bool {
	upper := strings.ToUpper(body)
	for _, marker := range nonTransactionalMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
