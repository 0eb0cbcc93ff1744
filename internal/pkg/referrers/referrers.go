// Package referrers turns the session source reported by the analytics source
// into a display name.
package referrers

import "strings"

const (
	Direct  = "Direct"
	Unknown = "Unknown"
)

// Session sources mapped to display names. The analytics source reports either
// a bare engine name ("google") or the referring hostname ("t.co").
var knownSources = map[string]string{
	// Search engines
	"google":         "Google",
	"google.com":     "Google",
	"bing":           "Bing",
	"bing.com":       "Bing",
	"duckduckgo":     "DuckDuckGo",
	"duckduckgo.com": "DuckDuckGo",
	"yahoo":          "Yahoo",
	"yahoo.com":      "Yahoo",
	"baidu":          "Baidu",
	"yandex":         "Yandex",
	"yandex.ru":      "Yandex",
	"ecosia.org":     "Ecosia",
	"kagi.com":       "Kagi",

	// Social media
	"x.com":           "X/Twitter",
	"twitter.com":     "X/Twitter",
	"t.co":            "X/Twitter",
	"facebook.com":    "Facebook",
	"fb.com":          "Facebook",
	"instagram.com":   "Instagram",
	"linkedin.com":    "LinkedIn",
	"lnkd.in":         "LinkedIn",
	"tiktok.com":      "TikTok",
	"pinterest.com":   "Pinterest",
	"reddit.com":      "Reddit",
	"threads.net":     "Threads",
	"bsky.app":        "Bluesky",
	"mastodon.social": "Mastodon",
	"youtube.com":     "YouTube",
	"youtu.be":        "YouTube",

	// Communities
	"news.ycombinator.com": "Hacker News",
	"lobste.rs":            "Lobsters",
	"producthunt.com":      "Product Hunt",
	"dev.to":               "DEV Community",
	"medium.com":           "Medium",
	"substack.com":         "Substack",
	"github.com":           "GitHub",
	"stackoverflow.com":    "Stack Overflow",

	// Mail
	"mail.google.com":  "Gmail",
	"outlook.live.com": "Outlook",
	"newsletter":       "Newsletter",

	// Shorteners
	"bit.ly":      "Bitly",
	"tinyurl.com": "TinyURL",
}

// DisplayName returns a human-friendly name for a session source. Empty,
// "none" and "(direct)" sources are Direct; "(not set)" is Unknown. Unknown
// hostnames lose a leading "www." and get their first letter capitalized.
func DisplayName(source string) string {
	source = strings.ToLower(strings.TrimSpace(source))

	switch source {
	case "", "none", "(direct)":
		return Direct
	case "(not set)":
		return Unknown
	}

	if name, ok := knownSources[source]; ok {
		return name
	}

	source = strings.TrimPrefix(source, "www.")
	if name, ok := knownSources[source]; ok {
		return name
	}

	// Subdomain of a known source, e.g. l.facebook.com
	for domain, name := range knownSources {
		if strings.Contains(domain, ".") && strings.HasSuffix(source, "."+domain) {
			return name
		}
	}

	return capitalizeFirst(source)
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
