// Package visitors derives anonymous visitor identifiers.
package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// BuildUniqueVisitorId creates a privacy-first fallback visitor identifier
// for sessions that arrive without one. The signature rotates daily at
// midnight UTC so visitors cannot be tracked across days, and the IP address
// is only ever hashed, never stored.
func BuildUniqueVisitorId(ipAddress, userAgent, salt string) string {
	today := time.Now().UTC().Format("2006-01-02")
	dailySalt := fmt.Sprintf("%s-%s", today, salt)
	data := fmt.Sprintf("%s.%s.%s", dailySalt, ipAddress, userAgent)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
