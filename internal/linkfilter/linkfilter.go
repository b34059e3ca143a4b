// Package linkfilter is the deterministic gate in front of a worker's
// personal queue: it rejects URLs by host, path, and extension before any
// model-based scoring is considered.
package linkfilter

import (
	"net/url"
	"regexp"
	"strings"
)

// MaxQueueSize bounds a worker's personal queue. Queue pressure is the
// fill ratio against this cap.
const MaxQueueSize = 100

// Social media, generic search engines, and generic aggregators yield
// noise rather than primary sources.
var rejectedDomains = []string{
	"twitter.com",
	"x.com",
	"linkedin.com",
	"facebook.com",
	"instagram.com",
	"youtube.com",
	"google.com",
	"bing.com",
	"yahoo.com",
	"duckduckgo.com",
	"wikipedia.org",
}

// Auth, legal, help, and search-result pages.
var rejectedPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/login`),
	regexp.MustCompile(`/signin`),
	regexp.MustCompile(`/signup`),
	regexp.MustCompile(`/register`),
	regexp.MustCompile(`/contact`),
	regexp.MustCompile(`/about-us`),
	regexp.MustCompile(`/careers`),
	regexp.MustCompile(`/privacy`),
	regexp.MustCompile(`/terms`),
	regexp.MustCompile(`/cookie`),
	regexp.MustCompile(`/support`),
	regexp.MustCompile(`/help`),
	regexp.MustCompile(`/faq`),
	regexp.MustCompile(`/search\?`),
	regexp.MustCompile(`/results\?`),
}

// Archives, executables, and media files carry no extractable text.
var rejectedExtensions = []string{
	".zip", ".exe", ".dmg", ".pkg", ".deb", ".rpm", ".tar", ".gz", ".rar", ".7z",
	".mp4", ".avi", ".mov", ".mp3", ".wav",
	".jpg", ".jpeg", ".png", ".gif", ".svg",
}

// Filter rejects URLs by heuristics and reports queue pressure. The zero
// value uses only the builtin blocklist; extra domains extend it.
type Filter struct {
	extraDomains []string
}

// New returns a Filter with additional blocked domain suffixes.
func New(extraDomains ...string) *Filter {
	return &Filter{extraDomains: extraDomains}
}

// ShouldReject applies the full heuristic gate. Malformed URLs are
// rejected.
func (f *Filter) ShouldReject(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return true
	}

	host := strings.ToLower(u.Hostname())
	for _, domain := range rejectedDomains {
		if matchesDomain(host, domain) {
			return true
		}
	}
	for _, domain := range f.extraDomains {
		if matchesDomain(host, strings.ToLower(domain)) {
			return true
		}
	}

	pathAndQuery := strings.ToLower(u.Path)
	if u.RawQuery != "" {
		pathAndQuery += "?" + strings.ToLower(u.RawQuery)
	}
	for _, pattern := range rejectedPathPatterns {
		if pattern.MatchString(pathAndQuery) {
			return true
		}
	}

	lowerPath := strings.ToLower(u.Path)
	for _, ext := range rejectedExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return true
		}
	}

	return false
}

// matchesDomain matches a host against a blocked domain, including
// subdomains.
func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// QueuePressure returns the personal-queue fill ratio in [0, 1].
// Pressure above 0.5 switches link handling from append-all to
// score-then-truncate.
func QueuePressure(queueSize int) float64 {
	if queueSize <= 0 {
		return 0
	}
	p := float64(queueSize) / float64(MaxQueueSize)
	if p > 1 {
		return 1
	}
	return p
}

// Domain extracts the lowercased hostname of a URL, or "" when malformed.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
