// Package validate classifies evidence URLs by credibility and kind.
package validate

import (
	"net/url"
	"strings"

	"github.com/ppiankov/promessa/internal/model"
)

var defaultOfficialDomains = []string{"gov.br", "leg.br", "jus.br", "mp.br", "def.br", "tc.br"}

var defaultTrustedDomains = []string{
	"tse.jus.br", "ibge.gov.br", "portaldatransparencia.gov.br", "queridodiario.ok.org.br",
}

var socialHosts = []string{
	"twitter.com", "x.com", "facebook.com", "instagram.com", "youtube.com", "youtu.be",
	"tiktok.com", "threads.net", "linkedin.com", "kwai.com", "t.me",
}

// CredibilityClassifier tags sources by domain
type CredibilityClassifier struct {
	officialMap map[string]bool
	trustedMap  map[string]bool
	socialMap   map[string]bool
}

// NewCredibilityClassifier creates a classifier with the built-in tables
// extended by config
func NewCredibilityClassifier(config *model.AuthorityConfig) *CredibilityClassifier {
	c := &CredibilityClassifier{
		officialMap: make(map[string]bool),
		trustedMap:  make(map[string]bool),
		socialMap:   make(map[string]bool),
	}

	for _, d := range defaultOfficialDomains {
		c.officialMap[d] = true
	}
	for _, d := range defaultTrustedDomains {
		c.trustedMap[d] = true
	}
	for _, d := range socialHosts {
		c.socialMap[d] = true
	}

	if config != nil {
		for _, d := range config.OfficialDomains {
			c.officialMap[strings.ToLower(strings.TrimSpace(d))] = true
		}
		for _, d := range config.TrustedDomains {
			c.trustedMap[strings.ToLower(strings.TrimSpace(d))] = true
		}
	}

	return c
}

// IsOfficial reports whether rawURL belongs to a government domain
func (c *CredibilityClassifier) IsOfficial(rawURL string) bool {
	return matchesDomain(hostOf(rawURL), c.officialMap)
}

// Confidence returns high for official or whitelisted domains and medium
// otherwise. Low is never assigned from the domain alone.
func (c *CredibilityClassifier) Confidence(rawURL string) model.Confidence {
	host := hostOf(rawURL)
	if matchesDomain(host, c.officialMap) || matchesDomain(host, c.trustedMap) {
		return model.ConfidenceHigh
	}
	return model.ConfidenceMedium
}

// Kind returns official for government domains, social for social networks
// and news otherwise
func (c *CredibilityClassifier) Kind(rawURL string) model.SourceKind {
	host := hostOf(rawURL)
	switch {
	case matchesDomain(host, c.officialMap):
		return model.KindOfficial
	case matchesDomain(host, c.socialMap):
		return model.KindSocial
	default:
		return model.KindNews
	}
}

// Tag sets Kind and Confidence on a source that came from open search.
// Registry results keep the tags they were created with.
func (c *CredibilityClassifier) Tag(src *model.RawSource) {
	if src.Kind == "" {
		src.Kind = c.Kind(src.URL)
	}
	if src.Confidence == "" {
		src.Confidence = c.Confidence(src.URL)
	}
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

// matchesDomain checks the host and each parent domain against the map
// (e.g., camara.sp.gov.br matches gov.br)
func matchesDomain(host string, domains map[string]bool) bool {
	if host == "" {
		return false
	}
	for h := host; h != ""; {
		if domains[h] {
			return true
		}
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		h = h[idx+1:]
	}
	return false
}

// IsHTTPURL reports whether raw parses as an absolute http or https URL
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NormalizeURL returns the dedup key for a URL: lowercase scheme and host,
// no fragment, no tracking parameters, no trailing slash
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || lk == "fbclid" || lk == "gclid" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	return strings.TrimRight(u.String(), "/")
}
