// Package referrers classifies referrer hostnames into the closed category
// set used by the stats rollup, and maps well-known hostnames to friendly
// display names for reports.
package referrers

import "strings"

// Referrer categories. The set is closed: every session carries exactly one
// of these values so the aggregation key space stays bounded.
const (
	CategorySearch   = "Search"
	CategorySocial   = "Social"
	CategoryEmail    = "Email"
	CategoryDirect   = "Direct"
	CategoryReferral = "Referral"
	CategoryUnknown  = "Unknown"
)

// ValidCategories lists every accepted referrer category.
var ValidCategories = map[string]bool{
	CategorySearch:   true,
	CategorySocial:   true,
	CategoryEmail:    true,
	CategoryDirect:   true,
	CategoryReferral: true,
	CategoryUnknown:  true,
}

var searchEngines = map[string]string{
	"google.com":     "Google",
	"google.co.uk":   "Google",
	"google.de":      "Google",
	"google.fr":      "Google",
	"google.es":      "Google",
	"google.it":      "Google",
	"google.ca":      "Google",
	"google.com.au":  "Google",
	"google.co.jp":   "Google",
	"google.com.br":  "Google",
	"bing.com":       "Bing",
	"duckduckgo.com": "DuckDuckGo",
	"yahoo.com":      "Yahoo",
	"baidu.com":      "Baidu",
	"yandex.ru":      "Yandex",
	"ecosia.org":     "Ecosia",
	"kagi.com":       "Kagi",
}

var socialNetworks = map[string]string{
	"x.com":                "X/Twitter",
	"twitter.com":          "X/Twitter",
	"t.co":                 "X/Twitter",
	"facebook.com":         "Facebook",
	"fb.com":               "Facebook",
	"l.facebook.com":       "Facebook",
	"lm.facebook.com":      "Facebook",
	"instagram.com":        "Instagram",
	"l.instagram.com":      "Instagram",
	"linkedin.com":         "LinkedIn",
	"lnkd.in":              "LinkedIn",
	"tiktok.com":           "TikTok",
	"pinterest.com":        "Pinterest",
	"reddit.com":           "Reddit",
	"old.reddit.com":       "Reddit",
	"threads.net":          "Threads",
	"bsky.app":             "Bluesky",
	"mastodon.social":      "Mastodon",
	"youtube.com":          "YouTube",
	"youtu.be":             "YouTube",
	"snapchat.com":         "Snapchat",
	"discord.com":          "Discord",
	"discordapp.com":       "Discord",
	"whatsapp.com":         "WhatsApp",
	"telegram.org":         "Telegram",
	"t.me":                 "Telegram",
	"slack.com":            "Slack",
	"news.ycombinator.com": "Hacker News",
	"hn.algolia.com":       "Hacker News",
	"lobste.rs":            "Lobsters",
}

var emailProviders = map[string]string{
	"mail.google.com":    "Gmail",
	"outlook.live.com":   "Outlook",
	"outlook.office.com": "Outlook",
	"mail.yahoo.com":     "Yahoo Mail",
	"protonmail.com":     "Proton Mail",
	"mail.proton.me":     "Proton Mail",
}

var otherKnownReferrers = map[string]string{
	"producthunt.com":   "Product Hunt",
	"indiehackers.com":  "Indie Hackers",
	"dev.to":            "DEV Community",
	"hashnode.com":      "Hashnode",
	"medium.com":        "Medium",
	"substack.com":      "Substack",
	"github.com":        "GitHub",
	"gitlab.com":        "GitLab",
	"stackoverflow.com": "Stack Overflow",
	"quora.com":         "Quora",
	"bit.ly":            "Bitly",
	"tinyurl.com":       "TinyURL",
}

// Categorize maps a referrer hostname to one of the closed categories.
// An empty hostname means the visitor arrived directly.
func Categorize(hostname string) string {
	hostname = normalize(hostname)
	if hostname == "" {
		return CategoryDirect
	}

	if _, ok := lookup(searchEngines, hostname); ok {
		return CategorySearch
	}
	if _, ok := lookup(socialNetworks, hostname); ok {
		return CategorySocial
	}
	if _, ok := lookup(emailProviders, hostname); ok {
		return CategoryEmail
	}
	return CategoryReferral
}

// Normalize validates a client-supplied category, falling back to Unknown
// for anything outside the closed set.
func Normalize(category string) string {
	if ValidCategories[category] {
		return category
	}
	return CategoryUnknown
}

// FriendlyName returns a human-friendly name for a referrer hostname.
// Unknown hostnames come back with the "www." prefix removed and the first
// letter capitalized.
func FriendlyName(hostname string) string {
	hostname = normalize(hostname)

	for _, m := range []map[string]string{searchEngines, socialNetworks, emailProviders, otherKnownReferrers} {
		if name, ok := lookup(m, hostname); ok {
			return name
		}
	}

	return capitalizeFirst(hostname)
}

func normalize(hostname string) string {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	return strings.TrimPrefix(hostname, "www.")
}

// lookup checks for an exact match, then for a subdomain of a known host.
func lookup(m map[string]string, hostname string) (string, bool) {
	if name, ok := m[hostname]; ok {
		return name, true
	}
	for domain, name := range m {
		if strings.HasSuffix(hostname, "."+domain) {
			return name, true
		}
	}
	return "", false
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
