package connector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/model"
)

// GazetteRegistry searches municipal official gazettes through the Querido
// Diário API. A territorial registry filters by the target's IBGE code; a
// non-territorial one searches every indexed city.
type GazetteRegistry struct {
	fetcher     *fetch.Fetcher
	baseURL     string
	maxResults  int
	territorial bool
}

// NewGazetteRegistry creates a gazette connector
func NewGazetteRegistry(f *fetch.Fetcher, baseURL string, maxResults int, territorial bool) *GazetteRegistry {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &GazetteRegistry{
		fetcher:     f,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxResults:  maxResults,
		territorial: territorial,
	}
}

// Name returns the connector name
func (g *GazetteRegistry) Name() string {
	if g.territorial {
		return "diario-oficial"
	}
	return "diario-oficial-amplo"
}

// Level returns the jurisdiction this registry covers
func (g *GazetteRegistry) Level() model.Jurisdiction { return model.JurisdictionMunicipal }

type gazetteResponse struct {
	TotalGazettes int `json:"total_gazettes"`
	Gazettes      []struct {
		TerritoryID   string   `json:"territory_id"`
		TerritoryName string   `json:"territory_name"`
		StateCode     string   `json:"state_code"`
		Date          string   `json:"date"`
		URL           string   `json:"url"`
		TxtURL        string   `json:"txt_url"`
		Excerpts      []string `json:"excerpts"`
	} `json:"gazettes"`
}

// Collect returns gazette excerpts that mention the target
func (g *GazetteRegistry) Collect(ctx context.Context, target model.Target) ([]model.RawSource, error) {
	if g.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if g.territorial && target.IBGECode == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("querystring", fmt.Sprintf("%q", target.Name))
	q.Set("size", strconv.Itoa(g.maxResults))
	q.Set("excerpt_size", "500")
	q.Set("number_of_excerpts", "3")
	q.Set("sort_by", "descending_date")
	if g.territorial {
		q.Set("territory_ids", target.IBGECode)
	}

	var resp gazetteResponse
	if err := g.fetcher.GetJSON(ctx, g.baseURL+"/gazettes?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("gazette: %w", err)
	}

	var sources []model.RawSource
	for _, gz := range resp.Gazettes {
		content := strings.Join(gz.Excerpts, "\n")
		if strings.TrimSpace(content) == "" || gz.URL == "" {
			continue
		}
		title := fmt.Sprintf("Diário Oficial de %s (%s) %s", gz.TerritoryName, gz.StateCode, gz.Date)
		sources = append(sources, officialSource(title, gz.URL, content, g.Name()))
	}
	return sources, nil
}
