package referrers

import "testing"

func TestCategorize(t *testing.T) {
	tests := []struct {
		hostname string
		expected string
	}{
		// Direct
		{"", CategoryDirect},
		{"   ", CategoryDirect},

		// Search
		{"google.com", CategorySearch},
		{"www.google.com", CategorySearch},
		{"google.co.uk", CategorySearch},
		{"duckduckgo.com", CategorySearch},
		{"BING.COM", CategorySearch},

		// Social
		{"twitter.com", CategorySocial},
		{"m.facebook.com", CategorySocial},
		{"news.ycombinator.com", CategorySocial},
		{"t.co", CategorySocial},

		// Email
		{"mail.google.com", CategoryEmail},
		{"outlook.live.com", CategoryEmail},

		// Everything else is a plain referral
		{"example.com", CategoryReferral},
		{"blog.partner-site.io", CategoryReferral},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			got := Categorize(tt.hostname)
			if got != tt.expected {
				t.Errorf("Categorize(%q) = %q, want %q", tt.hostname, got, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		category string
		expected string
	}{
		{CategorySearch, CategorySearch},
		{CategoryDirect, CategoryDirect},
		{CategoryUnknown, CategoryUnknown},
		{"search", CategoryUnknown}, // case matters: outside the closed set
		{"Paid", CategoryUnknown},
		{"", CategoryUnknown},
	}

	for _, tt := range tests {
		got := Normalize(tt.category)
		if got != tt.expected {
			t.Errorf("Normalize(%q) = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestFriendlyName(t *testing.T) {
	tests := []struct {
		hostname string
		expected string
	}{
		{"google.com", "Google"},
		{"news.ycombinator.com", "Hacker News"},
		{"x.com", "X/Twitter"},
		{"reddit.com", "Reddit"},

		// With www prefix
		{"www.google.com", "Google"},

		// Subdomains of known referrers
		{"m.facebook.com", "Facebook"},
		{"mobile.twitter.com", "X/Twitter"},

		// Unknown referrers (capitalized)
		{"example.com", "Example.com"},
		{"www.example.com", "Example.com"}, // www. stripped
		{"myblog.io", "Myblog.io"},

		// Case insensitive
		{"GOOGLE.COM", "Google"},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			got := FriendlyName(tt.hostname)
			if got != tt.expected {
				t.Errorf("FriendlyName(%q) = %q, want %q", tt.hostname, got, tt.expected)
			}
		})
	}
}
