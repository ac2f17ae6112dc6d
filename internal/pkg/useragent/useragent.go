// Package useragent classifies User-Agent strings using an embedded
// regex database: bot detection plus browser, OS and device-type parsing.
package useragent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device types form a closed set so the aggregation key space stays bounded.
const (
	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceUnknown = "Unknown"
)

// UserAgent is the parsed classification of a User-Agent string.
type UserAgent struct {
	UserAgent      string
	OS             string
	OSVersion      string
	Browser        string
	BrowserVersion string
	DeviceType     string
	Bot            bool
	BotName        string
}

//go:embed database/bots.yml
//go:embed database/browsers.yml
//go:embed database/oss.yml
var databaseFiles embed.FS

type browserEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type osEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type botEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser *detectorParser
	once   sync.Once
)

type detectorParser struct {
	browsers []browserEntry
	oss      []osEntry
	bots     []botEntry
	cache    *regexCache
}

func getParser() *detectorParser {
	once.Do(func() {
		parser = &detectorParser{cache: newRegexCache()}

		if data, err := databaseFiles.ReadFile("database/browsers.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.browsers); err != nil {
				fmt.Printf("Error parsing browsers.yml: %v\n", err)
			}
		}

		if data, err := databaseFiles.ReadFile("database/oss.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.oss); err != nil {
				fmt.Printf("Error parsing oss.yml: %v\n", err)
			}
		}

		if data, err := databaseFiles.ReadFile("database/bots.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.bots); err != nil {
				fmt.Printf("Error parsing bots.yml: %v\n", err)
			}
		}
	})
	return parser
}

func (p *detectorParser) parseBot(userAgent string) *botEntry {
	for i := range p.bots {
		bot := &p.bots[i]
		if regex, err := p.cache.get(bot.Regex); err == nil {
			if regex.MatchString(userAgent) {
				return bot
			}
		}
	}
	return nil
}

// expandVersion substitutes $1, $2, ... placeholders with capture groups and
// normalizes underscore-separated versions (iOS and macOS tokens) to dots.
func expandVersion(template string, matches []string) string {
	if template == "" || len(matches) < 2 {
		return template
	}
	version := template
	for i, match := range matches[1:] {
		placeholder := fmt.Sprintf("$%d", i+1)
		version = strings.ReplaceAll(version, placeholder, match)
	}
	return strings.ReplaceAll(version, "_", ".")
}

func (p *detectorParser) parseBrowser(userAgent string) (string, string) {
	for _, entry := range p.browsers {
		if regex, err := p.cache.get(entry.Regex); err == nil {
			if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
				return entry.Name, expandVersion(entry.Version, matches)
			}
		}
	}
	return DeviceUnknown, ""
}

func (p *detectorParser) parseOS(userAgent string) (string, string) {
	for _, entry := range p.oss {
		if regex, err := p.cache.get(entry.Regex); err == nil {
			if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
				version := entry.Version
				if strings.Contains(version, "$") {
					version = expandVersion(version, matches)
				}
				return entry.Name, version
			}
		}
	}
	return DeviceUnknown, ""
}

func parseDeviceType(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return DeviceUnknown
	}

	ua := strings.ToLower(userAgent)

	// Tablets first: their user agents often contain "mobile" too
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") ||
		(strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")) {
		return DeviceTablet
	}

	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") ||
		strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod") ||
		strings.Contains(ua, "blackberry") || strings.Contains(ua, "windows phone") {
		return DeviceMobile
	}

	if strings.Contains(ua, "windows") || strings.Contains(ua, "macintosh") ||
		strings.Contains(ua, "x11") || strings.Contains(ua, "linux") ||
		strings.Contains(ua, "cros") {
		return DeviceDesktop
	}

	return DeviceUnknown
}

// Parse classifies a User-Agent string. Bots short-circuit: browser/OS
// fields stay Unknown and BotName carries the matched signature name.
func Parse(userAgent string) UserAgent {
	p := getParser()

	if bot := p.parseBot(userAgent); bot != nil {
		return UserAgent{
			UserAgent:  userAgent,
			OS:         DeviceUnknown,
			Browser:    DeviceUnknown,
			DeviceType: DeviceUnknown,
			Bot:        true,
			BotName:    bot.Name,
		}
	}

	browser, browserVersion := p.parseBrowser(userAgent)
	os, osVersion := p.parseOS(userAgent)

	return UserAgent{
		UserAgent:      userAgent,
		OS:             os,
		OSVersion:      osVersion,
		Browser:        browser,
		BrowserVersion: browserVersion,
		DeviceType:     parseDeviceType(userAgent),
		Bot:            false,
	}
}

// IsBot reports whether the User-Agent matches a known bot signature.
func IsBot(userAgent string) bool {
	return getParser().parseBot(userAgent) != nil
}
