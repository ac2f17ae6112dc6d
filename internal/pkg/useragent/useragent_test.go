package useragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	chromeWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariMacUA     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	firefoxLinuxUA  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	chromeAndroidUA = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	safariIPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	safariIPadUA    = "Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	edgeWindowsUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91"
	googlebotUA     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestParseBrowsers(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		browser string
	}{
		{"chrome on windows", chromeWindowsUA, "Chrome"},
		{"safari on mac", safariMacUA, "Safari"},
		{"firefox on linux", firefoxLinuxUA, "Firefox"},
		{"edge before chrome", edgeWindowsUA, "Microsoft Edge"},
		{"chrome on android", chromeAndroidUA, "Chrome"},
		{"empty user agent", "", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.ua)
			assert.Equal(t, tt.browser, result.Browser)
			assert.False(t, result.Bot)
		})
	}
}

func TestParseOperatingSystems(t *testing.T) {
	tests := []struct {
		name      string
		ua        string
		os        string
		osVersion string
	}{
		{"windows 10", chromeWindowsUA, "Windows", "10"},
		{"macos with dotted version", safariMacUA, "macOS", "10.15.7"},
		{"linux", firefoxLinuxUA, "Linux", ""},
		{"android", chromeAndroidUA, "Android", "14"},
		{"ios on iphone", safariIPhoneUA, "iOS", "17.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.ua)
			assert.Equal(t, tt.os, result.OS)
			assert.Equal(t, tt.osVersion, result.OSVersion)
		})
	}
}

func TestParseDeviceTypes(t *testing.T) {
	tests := []struct {
		name       string
		ua         string
		deviceType string
	}{
		{"windows desktop", chromeWindowsUA, DeviceDesktop},
		{"mac desktop", safariMacUA, DeviceDesktop},
		{"android phone", chromeAndroidUA, DeviceMobile},
		{"iphone", safariIPhoneUA, DeviceMobile},
		{"ipad", safariIPadUA, DeviceTablet},
		{"empty user agent", "", DeviceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.ua)
			assert.Equal(t, tt.deviceType, result.DeviceType)
		})
	}
}

func TestBotDetection(t *testing.T) {
	bots := []string{
		googlebotUA,
		"Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)",
		"Mozilla/5.0 (compatible; AhrefsBot/7.0; +http://ahrefs.com/robot/)",
		"curl/8.4.0",
		"python-requests/2.31.0",
		"Go-http-client/2.0",
		"Mozilla/5.0 (compatible; UptimeRobot/2.0; http://www.uptimerobot.com/)",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/119.0.0.0 Safari/537.36",
	}

	for _, ua := range bots {
		t.Run(ua, func(t *testing.T) {
			result := Parse(ua)
			assert.True(t, result.Bot, "expected %q to be classified as a bot", ua)
			assert.NotEmpty(t, result.BotName)
			assert.True(t, IsBot(ua))
		})
	}

	humans := []string{chromeWindowsUA, safariIPhoneUA, firefoxLinuxUA}
	for _, ua := range humans {
		t.Run(ua, func(t *testing.T) {
			assert.False(t, IsBot(ua), "expected %q not to be classified as a bot", ua)
		})
	}
}

func TestBotsSuppressBrowserAndOS(t *testing.T) {
	result := Parse(googlebotUA)

	assert.True(t, result.Bot)
	assert.Equal(t, "Googlebot", result.BotName)
	assert.Equal(t, "Unknown", result.Browser)
	assert.Equal(t, "Unknown", result.OS)
	assert.Equal(t, DeviceUnknown, result.DeviceType)
}
