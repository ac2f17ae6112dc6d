package visitors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"visitly/internal/visitors"
)

func TestBuildUniqueVisitorId(t *testing.T) {
	ipAddress := "203.0.113.7"
	userAgent := "Mozilla/5.0"
	salt := "test-salt"

	t.Run("generates consistent ID for same inputs within same day", func(t *testing.T) {
		id1 := visitors.BuildUniqueVisitorId(ipAddress, userAgent, salt)
		id2 := visitors.BuildUniqueVisitorId(ipAddress, userAgent, salt)

		assert.Equal(t, id1, id2, "Same inputs should generate same ID")
		assert.NotEmpty(t, id1)
		assert.Len(t, id1, 64, "SHA-256 hash should be 64 characters (hex encoded)")
	})

	t.Run("generates different IDs for different IPs", func(t *testing.T) {
		id1 := visitors.BuildUniqueVisitorId(ipAddress, userAgent, salt)
		id2 := visitors.BuildUniqueVisitorId("203.0.113.8", userAgent, salt)

		assert.NotEqual(t, id1, id2, "Different IP should generate different ID")
	})

	t.Run("generates different IDs for different user agents", func(t *testing.T) {
		id1 := visitors.BuildUniqueVisitorId(ipAddress, userAgent, salt)
		id2 := visitors.BuildUniqueVisitorId(ipAddress, "Different Agent", salt)

		assert.NotEqual(t, id1, id2, "Different user agent should generate different ID")
	})

	t.Run("generates different IDs for different salts", func(t *testing.T) {
		id1 := visitors.BuildUniqueVisitorId(ipAddress, userAgent, "salt1")
		id2 := visitors.BuildUniqueVisitorId(ipAddress, userAgent, "salt2")

		assert.NotEqual(t, id1, id2, "Different salts should generate different IDs")
	})
}
