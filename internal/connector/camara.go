package connector

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/model"
)

const camaraPortal = "https://www.camara.leg.br"

// CamaraRegistry reads the Câmara dos Deputados open-data API: authored
// propositions, floor speeches and roll-call votes of a federal deputy.
type CamaraRegistry struct {
	fetcher    *fetch.Fetcher
	baseURL    string
	votesPath  string
	maxResults int
}

// NewCamaraRegistry creates a Câmara connector
func NewCamaraRegistry(f *fetch.Fetcher, baseURL, votesPath string, maxResults int) *CamaraRegistry {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &CamaraRegistry{
		fetcher:    f,
		baseURL:    strings.TrimRight(baseURL, "/"),
		votesPath:  votesPath,
		maxResults: maxResults,
	}
}

// Name returns the connector name
func (c *CamaraRegistry) Name() string { return "camara" }

// Level returns the jurisdiction this registry covers
func (c *CamaraRegistry) Level() model.Jurisdiction { return model.JurisdictionNational }

type camaraDeputados struct {
	Dados []struct {
		ID           int    `json:"id"`
		Nome         string `json:"nome"`
		SiglaPartido string `json:"siglaPartido"`
		SiglaUF      string `json:"siglaUf"`
	} `json:"dados"`
}

type camaraProposicoes struct {
	Dados []struct {
		ID        int    `json:"id"`
		SiglaTipo string `json:"siglaTipo"`
		Numero    int    `json:"numero"`
		Ano       int    `json:"ano"`
		Ementa    string `json:"ementa"`
	} `json:"dados"`
}

type camaraDiscursos struct {
	Dados []struct {
		DataHoraInicio string `json:"dataHoraInicio"`
		TipoDiscurso   string `json:"tipoDiscurso"`
		Sumario        string `json:"sumario"`
		Transcricao    string `json:"transcricao"`
		URLTexto       string `json:"urlTexto"`
	} `json:"dados"`
}

// ResolveID finds the deputy id for a target, preferring an explicit
// LegislativeID and narrowing name matches by state
func (c *CamaraRegistry) ResolveID(ctx context.Context, target model.Target) (string, error) {
	if target.LegislativeID != "" {
		return target.LegislativeID, nil
	}
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}

	q := url.Values{}
	q.Set("nome", target.Name)
	q.Set("ordem", "ASC")
	q.Set("ordenarPor", "nome")
	if target.State != "" {
		q.Set("siglaUf", strings.ToUpper(target.State))
	}

	var resp camaraDeputados
	if err := c.fetcher.GetJSON(ctx, c.baseURL+"/deputados?"+q.Encode(), nil, &resp); err != nil {
		return "", fmt.Errorf("camara: resolve deputy: %w", err)
	}
	if len(resp.Dados) == 0 {
		return "", nil
	}

	want := extract.Normalize(target.Name)
	for _, d := range resp.Dados {
		if extract.Normalize(d.Nome) == want {
			return strconv.Itoa(d.ID), nil
		}
	}
	return strconv.Itoa(resp.Dados[0].ID), nil
}

// Collect returns the deputy's recent propositions and speeches
func (c *CamaraRegistry) Collect(ctx context.Context, target model.Target) ([]model.RawSource, error) {
	id, err := c.ResolveID(ctx, target)
	if err != nil || id == "" {
		return nil, err
	}

	sources, err := c.propositions(ctx, id)
	if err != nil {
		return nil, err
	}

	speeches, err := c.speeches(ctx, id)
	if err != nil {
		// Propositions alone are still a useful result
		return sources, nil
	}
	return append(sources, speeches...), nil
}

func (c *CamaraRegistry) propositions(ctx context.Context, id string) ([]model.RawSource, error) {
	q := url.Values{}
	q.Set("idDeputadoAutor", id)
	q.Set("ordem", "DESC")
	q.Set("ordenarPor", "id")
	q.Set("itens", strconv.Itoa(c.maxResults))

	var resp camaraProposicoes
	if err := c.fetcher.GetJSON(ctx, c.baseURL+"/proposicoes?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("camara: propositions: %w", err)
	}

	sources := make([]model.RawSource, 0, len(resp.Dados))
	for _, p := range resp.Dados {
		if strings.TrimSpace(p.Ementa) == "" {
			continue
		}
		title := fmt.Sprintf("%s %d/%d", p.SiglaTipo, p.Numero, p.Ano)
		link := fmt.Sprintf("%s/propostas-legislativas/%d", camaraPortal, p.ID)
		sources = append(sources, officialSource(title, link, p.Ementa, c.Name()))
	}
	return sources, nil
}

func (c *CamaraRegistry) speeches(ctx context.Context, id string) ([]model.RawSource, error) {
	q := url.Values{}
	q.Set("ordem", "DESC")
	q.Set("ordenarPor", "dataHoraInicio")
	q.Set("itens", strconv.Itoa(c.maxResults))

	var resp camaraDiscursos
	endpoint := fmt.Sprintf("%s/deputados/%s/discursos?%s", c.baseURL, url.PathEscape(id), q.Encode())
	if err := c.fetcher.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("camara: speeches: %w", err)
	}

	var sources []model.RawSource
	for _, d := range resp.Dados {
		content := d.Transcricao
		if strings.TrimSpace(content) == "" {
			content = d.Sumario
		}
		if strings.TrimSpace(content) == "" || d.URLTexto == "" {
			continue
		}
		title := strings.TrimSpace("Discurso " + d.TipoDiscurso + " " + dateOnly(d.DataHoraInicio))
		sources = append(sources, officialSource(title, d.URLTexto, content, c.Name()))
	}
	return sources, nil
}

// camaraVotos accepts both the per-deputy listing and the per-roll-call
// listing field names
type camaraVotos struct {
	Dados []struct {
		ID           string `json:"id"`
		IDVotacao    string `json:"idVotacao"`
		Data         string `json:"data"`
		DataHoraVoto string `json:"dataHoraVoto"`
		Descricao    string `json:"descricao"`
		Ementa       string `json:"ementa"`
		TipoVoto     string `json:"tipoVoto"`
		Voto         string `json:"voto"`
		SiglaOrgao   string `json:"siglaOrgao"`
		URI          string `json:"uri"`
	} `json:"dados"`
}

// RecentVotes lists the deputy's recent roll-call votes, most recent first
func (c *CamaraRegistry) RecentVotes(ctx context.Context, legislativeID string) ([]model.VoteRecord, error) {
	if c.baseURL == "" || c.votesPath == "" {
		return nil, ErrNotConfigured
	}
	if legislativeID == "" {
		return nil, nil
	}

	path := strings.ReplaceAll(c.votesPath, "{id}", url.PathEscape(legislativeID))
	var resp camaraVotos
	if err := c.fetcher.GetJSON(ctx, c.baseURL+path, nil, &resp); err != nil {
		return nil, fmt.Errorf("camara: votes: %w", err)
	}

	votes := make([]model.VoteRecord, 0, len(resp.Dados))
	for _, v := range resp.Dados {
		vote := model.VoteRecord{
			PropositionID: firstNonEmpty(v.IDVotacao, v.ID),
			Date:          dateOnly(firstNonEmpty(v.Data, v.DataHoraVoto)),
			BallotText:    firstNonEmpty(v.Ementa, v.Descricao),
			VoteValue:     firstNonEmpty(v.TipoVoto, v.Voto),
			Chamber:       firstNonEmpty(v.SiglaOrgao, "PLEN"),
			URL:           v.URI,
		}
		if vote.VoteValue == "" || vote.BallotText == "" {
			continue
		}
		votes = append(votes, vote)
	}

	// ISO dates sort lexically
	sort.SliceStable(votes, func(i, j int) bool { return votes[i].Date > votes[j].Date })
	return votes, nil
}

func dateOnly(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
