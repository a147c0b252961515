package discover

import (
	"net/url"
	"regexp"
	"strings"
)

// blockedDomains are hosts that are never a company's own website: social
// networks, aggregators, and reference sites that dominate search answers.
var blockedDomains = []string{
	"linkedin.com",
	"twitter.com",
	"x.com",
	"facebook.com",
	"instagram.com",
	"youtube.com",
	"tiktok.com",
	"github.com",
	"medium.com",
	"crunchbase.com",
	"wikipedia.org",
	"reddit.com",
	"quora.com",
	"yelp.com",
	"glassdoor.com",
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)

// ExtractURL pulls the first URL out of a prose answer. Trailing punctuation
// the model appended to the sentence is stripped.
func ExtractURL(text string) string {
	match := urlPattern.FindString(text)
	return strings.TrimRight(match, ".,;:!?")
}

// IsValidWebsiteURL reports whether raw looks like a company's own site:
// https, a dotted hostname, and not a blocked social or aggregator domain.
func IsValidWebsiteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	if !strings.Contains(host, ".") {
		return false
	}
	for _, blocked := range blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return false
		}
	}
	return true
}

// IsValidLinkedInURL reports whether raw is a LinkedIn company page. Personal
// profiles (/in/) do not count.
func IsValidLinkedInURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return false
	}
	return strings.Contains(u.Path, "/company/")
}
