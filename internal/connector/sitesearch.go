package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/model"
)

// SiteSearch restricts a Searcher to a set of domains and tags every hit
// as an official source
type SiteSearch struct {
	searcher Searcher
	origin   string
}

// NewSiteSearch wraps searcher; origin names the registry the hits belong to
func NewSiteSearch(searcher Searcher, origin string) *SiteSearch {
	return &SiteSearch{searcher: searcher, origin: origin}
}

// Search runs query restricted to domains ("site:a OR site:b")
func (s *SiteSearch) Search(ctx context.Context, query string, domains ...string) ([]model.RawSource, error) {
	if s.searcher == nil {
		return nil, ErrNotConfigured
	}

	var sites []string
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			sites = append(sites, "site:"+d)
		}
	}
	full := query
	if len(sites) > 0 {
		full = strings.Join(sites, " OR ") + " " + query
	}

	hits, err := s.searcher.Search(ctx, full)
	if err != nil {
		return nil, err
	}

	sources := make([]model.RawSource, 0, len(hits))
	for _, h := range hits {
		src := officialSource(h.Title, h.URL, h.Snippet, s.origin)
		src.PublishedAt = h.PublishedAt
		sources = append(sources, src)
	}
	return sources, nil
}

// AssemblyRegistry searches the target's state legislative assembly site
type AssemblyRegistry struct {
	site    *SiteSearch
	domains map[string]string
}

// NewAssemblyRegistry creates a state assembly connector; domains maps UF
// to the assembly's web domain
func NewAssemblyRegistry(searcher Searcher, domains map[string]string) *AssemblyRegistry {
	upper := make(map[string]string, len(domains))
	for uf, d := range domains {
		upper[strings.ToUpper(uf)] = d
	}
	return &AssemblyRegistry{site: NewSiteSearch(searcher, "assembleia"), domains: upper}
}

// Name returns the connector name
func (a *AssemblyRegistry) Name() string { return "assembleia" }

// Level returns the jurisdiction this registry covers
func (a *AssemblyRegistry) Level() model.Jurisdiction { return model.JurisdictionState }

// Collect searches the assembly domain for the target's bills and speeches
func (a *AssemblyRegistry) Collect(ctx context.Context, target model.Target) ([]model.RawSource, error) {
	domain := a.domains[strings.ToUpper(target.State)]
	if domain == "" {
		return nil, nil
	}
	return a.site.Search(ctx, fmt.Sprintf("%q projeto OR proposta OR discurso", target.Name), domain)
}

// CouncilRegistry searches the target's municipal council site
type CouncilRegistry struct {
	site      *SiteSearch
	overrides map[string]string
}

// NewCouncilRegistry creates a municipal council connector. overrides maps
// an IBGE code or a folded city name to the council's web domain.
func NewCouncilRegistry(searcher Searcher, overrides map[string]string) *CouncilRegistry {
	folded := make(map[string]string, len(overrides))
	for k, d := range overrides {
		folded[extract.Normalize(k)] = d
	}
	return &CouncilRegistry{site: NewSiteSearch(searcher, "camara-municipal"), overrides: folded}
}

// Name returns the connector name
func (c *CouncilRegistry) Name() string { return "camara-municipal" }

// Level returns the jurisdiction this registry covers
func (c *CouncilRegistry) Level() model.Jurisdiction { return model.JurisdictionMunicipal }

// Collect searches the council domain for the target
func (c *CouncilRegistry) Collect(ctx context.Context, target model.Target) ([]model.RawSource, error) {
	domain := c.Domain(target)
	if domain == "" {
		return nil, nil
	}
	return c.site.Search(ctx, fmt.Sprintf("%q projeto OR indicação OR discurso", target.Name), domain)
}

// Domain returns the council domain for the target's city, or "" when the
// city or state is unknown
func (c *CouncilRegistry) Domain(target model.Target) string {
	if target.IBGECode != "" {
		if d := c.overrides[extract.Normalize(target.IBGECode)]; d != "" {
			return d
		}
	}
	if target.City == "" {
		return ""
	}
	if d := c.overrides[extract.Normalize(target.City)]; d != "" {
		return d
	}
	if target.State == "" {
		return ""
	}
	slug := strings.ReplaceAll(extract.Normalize(target.City), " ", "")
	return fmt.Sprintf("camara.%s.%s.leg.br", slug, strings.ToLower(target.State))
}
