// Package geo resolves client IP addresses to ISO country codes using a
// local GeoLite2 database. Resolution is best-effort: private, loopback and
// unparseable addresses short-circuit to UnknownCountry without touching the
// database, and every failure mode (missing database, lookup error, empty
// record) also resolves to UnknownCountry so ingestion is never blocked.
package geo

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"visitly/internal/config"
)

// UnknownCountry is returned whenever a country cannot be determined.
const UnknownCountry = "Unknown"

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

var privateIPBlocks = buildPrivateIPBlocks()

func buildPrivateIPBlocks() []*net.IPNet {
	blocks := make([]*net.IPNet, 0, 7)
	for _, cidr := range []string{
		"10.0.0.0/8",     // RFC 1918
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"fc00::/7",       // RFC 4193 Unique Local Addresses
		"fe80::/10",      // RFC 4291 Link-Local
		"::1/128",        // Loopback
		"127.0.0.0/8",    // Loopback
	} {
		_, block, _ := net.ParseCIDR(cidr)
		blocks = append(blocks, block)
	}
	return blocks
}

// InitLogger sets the logger for the geo package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 database.
// Returns nil if the database is not configured or not found (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - country resolution disabled")
		}
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - country resolution disabled",
				slog.String("path", cfg.GeoDBPath),
				slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized",
			slog.String("path", cfg.GeoDBPath))
	}
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reloads the GeoLite2 database from disk.
// Call this after downloading a new database file.
func ReloadGeoDB() {
	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = InitGeoDB()

	if geoDB != nil && logger != nil {
		logger.Info("GeoLite2 database reloaded")
	}
}

// IsPrivateIP reports whether ip falls in a private, link-local or loopback range.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	for _, block := range privateIPBlocks {
		candidate := ip

		switch len(block.IP) {
		case net.IPv4len:
			if ip4 := ip.To4(); ip4 != nil {
				candidate = ip4
			} else {
				continue
			}
		case net.IPv6len:
			candidate = ip.To16()
			if candidate == nil {
				continue
			}
		}

		if block.Contains(candidate) {
			return true
		}
	}
	return false
}

// CountryFromIP resolves an IP address to an uppercase ISO country code or
// UnknownCountry. Private and unparseable addresses return immediately
// without a database lookup.
func CountryFromIP(ipAddress string) string {
	log := logger
	if log == nil {
		log = slog.Default()
	}

	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		log.Debug("Failed to parse IP address", slog.String("ip_address", ipAddress))
		return UnknownCountry
	}

	if IsPrivateIP(ip) {
		return UnknownCountry
	}

	db := GetGeoDB()
	if db == nil {
		return UnknownCountry
	}

	record, err := db.Country(ip)
	if err != nil {
		log.Debug("Country lookup failed",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return UnknownCountry
	}

	if record.Country.IsoCode == "" || record.Country.IsoCode == "--" {
		return UnknownCountry
	}

	return strings.ToUpper(record.Country.IsoCode)
}
