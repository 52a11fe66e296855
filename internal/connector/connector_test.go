package connector

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/promessa/internal/cache"
	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/model"
)

func testFetcher() *fetch.Fetcher {
	return fetch.NewFetcher(5*time.Second, "promessa-test", 1<<20, fetch.WithMaxRetries(1))
}

// stubSearcher records queries and returns fixed hits
type stubSearcher struct {
	hits    []model.SearchHit
	err     error
	queries []string
}

func (s *stubSearcher) Name() string { return "stub" }

func (s *stubSearcher) Search(_ context.Context, query string) ([]model.SearchHit, error) {
	s.queries = append(s.queries, query)
	return s.hits, s.err
}

func TestWebSearch_BraveResponse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-Subscription-Token") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("q") != "joão silva promessas" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"web":{"results":[
			{"title":"<b>João</b> promete escolas","url":"https://g1.globo.com/a","description":"Vou construir &amp; <strong>ampliar</strong>"},
			{"title":"sem url","url":""},
			{"title":"Segunda","url":"https://folha.uol.com.br/b","description":"texto"}
		]}}`)
	}))
	defer server.Close()

	ic := cache.NewIntelligent(cache.NewMemoryCache(time.Hour, time.Minute))
	ws := NewWebSearch(testFetcher(), model.SearchConfig{
		URLTemplate:  server.URL + "/search?q={query}",
		APIKey:       "k",
		APIKeyHeader: "X-Subscription-Token",
		MaxResults:   5,
	}, ic, time.Hour)

	hits, err := ws.Search(context.Background(), "joão silva promessas")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := []model.SearchHit{
		{Title: "João promete escolas", URL: "https://g1.globo.com/a", Snippet: "Vou construir & ampliar", Source: "web"},
		{Title: "Segunda", URL: "https://folha.uol.com.br/b", Snippet: "texto", Source: "web"},
	}
	if diff := cmp.Diff(want, hits); diff != "" {
		t.Errorf("Search() mismatch (-want +got):\n%s", diff)
	}

	if _, err := ws.Search(context.Background(), "joão silva promessas"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("second search should be served from cache, got %d calls", calls.Load())
	}
}

func TestWebSearch_SearxngResponseAndLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"results":[
			{"title":"a","url":"https://a.com","content":"ca"},
			{"title":"b","url":"https://b.com","content":"cb"},
			{"title":"c","url":"https://c.com","content":"cc"}
		]}`)
	}))
	defer server.Close()

	ws := NewWebSearch(testFetcher(), model.SearchConfig{URLTemplate: server.URL + "?q={query}", MaxResults: 2}, nil, time.Hour)
	hits, err := ws.Search(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[1].Snippet != "cb" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestWebSearch_NotConfigured(t *testing.T) {
	ws := NewWebSearch(testFetcher(), model.SearchConfig{}, nil, time.Hour)
	if _, err := ws.Search(context.Background(), "x"); err != ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestNewsFeed_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>busca</title>
<item><title>Prefeito promete creches</title><link>https://news.example.com/1</link>
<description>&lt;a href="x"&gt;Vamos abrir 20 creches&lt;/a&gt;</description>
<pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate></item>
<item><title>Sem link</title></item>
</channel></rss>`)
	}))
	defer server.Close()

	feed := NewNewsFeed(testFetcher(), server.URL+"/rss?q={query}", 10)
	hits, err := feed.Search(context.Background(), "prefeito")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Snippet != "Vamos abrir 20 creches" {
		t.Errorf("Snippet = %q", hits[0].Snippet)
	}
	if hits[0].PublishedAt == nil || hits[0].PublishedAt.Year() != 2025 {
		t.Errorf("PublishedAt = %v", hits[0].PublishedAt)
	}
	if hits[0].Source != "news" {
		t.Errorf("Source = %q", hits[0].Source)
	}
}

func TestNewsFeed_ParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "not a feed")
	}))
	defer server.Close()

	feed := NewNewsFeed(testFetcher(), server.URL+"?q={query}", 10)
	if _, err := feed.Search(context.Background(), "x"); err == nil {
		t.Error("expected parse error")
	}
}

func camaraServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/deputados":
			if r.URL.Query().Get("siglaUf") != "SP" {
				t.Errorf("siglaUf = %q", r.URL.Query().Get("siglaUf"))
			}
			_, _ = fmt.Fprint(w, `{"dados":[{"id":1,"nome":"Maria Silva Santos"},{"id":204554,"nome":"Maria Silva"}]}`)
		case r.URL.Path == "/proposicoes":
			if r.URL.Query().Get("idDeputadoAutor") != "204554" {
				t.Errorf("idDeputadoAutor = %q", r.URL.Query().Get("idDeputadoAutor"))
			}
			_, _ = fmt.Fprint(w, `{"dados":[
				{"id":2345,"siglaTipo":"PL","numero":12,"ano":2024,"ementa":"Cria o programa de creches em tempo integral."},
				{"id":2346,"siglaTipo":"REQ","numero":3,"ano":2024,"ementa":""}
			]}`)
		case r.URL.Path == "/deputados/204554/discursos":
			_, _ = fmt.Fprint(w, `{"dados":[{"dataHoraInicio":"2024-05-02T14:00","tipoDiscurso":"BREVES COMUNICAÇÕES","transcricao":"Vamos ampliar o FUNDEB.","urlTexto":"https://www.camara.leg.br/discurso/1"}]}`)
		case r.URL.Path == "/deputados/204554/votacoes":
			_, _ = fmt.Fprint(w, `{"dados":[
				{"idVotacao":"100-1","data":"2023-03-01","ementa":"Altera o FUNDEB","tipoVoto":"Sim"},
				{"idVotacao":"200-1","dataHoraVoto":"2024-08-10T18:00:00","descricao":"Reduz verbas do FUNDEB","voto":"Não","uri":"https://dadosabertos.camara.leg.br/api/v2/votacoes/200-1"},
				{"idVotacao":"300-1","data":"2024-01-01","ementa":"","tipoVoto":"Não"}
			]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestCamaraRegistry_Collect(t *testing.T) {
	server := camaraServer(t)
	defer server.Close()

	reg := NewCamaraRegistry(testFetcher(), server.URL, "/deputados/{id}/votacoes", 10)
	sources, err := reg.Collect(context.Background(), model.Target{Name: "Maria Silva", State: "sp"})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	want := []model.RawSource{
		{
			Title: "PL 12/2024", URL: "https://www.camara.leg.br/propostas-legislativas/2345",
			Content: "Cria o programa de creches em tempo integral.", Origin: "camara",
			Kind: model.KindOfficial, Confidence: model.ConfidenceHigh,
		},
		{
			Title: "Discurso BREVES COMUNICAÇÕES 2024-05-02", URL: "https://www.camara.leg.br/discurso/1",
			Content: "Vamos ampliar o FUNDEB.", Origin: "camara",
			Kind: model.KindOfficial, Confidence: model.ConfidenceHigh,
		},
	}
	if diff := cmp.Diff(want, sources); diff != "" {
		t.Errorf("Collect() mismatch (-want +got):\n%s", diff)
	}
}

func TestCamaraRegistry_RecentVotes(t *testing.T) {
	server := camaraServer(t)
	defer server.Close()

	reg := NewCamaraRegistry(testFetcher(), server.URL, "/deputados/{id}/votacoes", 10)
	votes, err := reg.RecentVotes(context.Background(), "204554")
	if err != nil {
		t.Fatalf("RecentVotes() error = %v", err)
	}

	want := []model.VoteRecord{
		{PropositionID: "200-1", Date: "2024-08-10", BallotText: "Reduz verbas do FUNDEB", VoteValue: "Não", Chamber: "PLEN",
			URL: "https://dadosabertos.camara.leg.br/api/v2/votacoes/200-1"},
		{PropositionID: "100-1", Date: "2023-03-01", BallotText: "Altera o FUNDEB", VoteValue: "Sim", Chamber: "PLEN"},
	}
	if diff := cmp.Diff(want, votes); diff != "" {
		t.Errorf("RecentVotes() mismatch (-want +got):\n%s", diff)
	}
}

func TestCamaraRegistry_NoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"dados":[]}`)
	}))
	defer server.Close()

	reg := NewCamaraRegistry(testFetcher(), server.URL, "", 10)
	sources, err := reg.Collect(context.Background(), model.Target{Name: "Ninguém"})
	if err != nil || len(sources) != 0 {
		t.Errorf("Collect() = %v, %v; want empty, nil", sources, err)
	}
	if _, err := reg.RecentVotes(context.Background(), "1"); err != ErrNotConfigured {
		t.Errorf("RecentVotes() without path err = %v", err)
	}
}

func TestAssemblyRegistry(t *testing.T) {
	stub := &stubSearcher{hits: []model.SearchHit{{Title: "PL 10/2024", URL: "https://www.al.sp.gov.br/pl/10", Snippet: "Cria"}}}
	reg := NewAssemblyRegistry(stub, map[string]string{"sp": "al.sp.gov.br"})

	sources, err := reg.Collect(context.Background(), model.Target{Name: "Ana Lima", State: "SP"})
	if err != nil {
		t.Fatal(err)
	}
	if len(stub.queries) != 1 || !strings.HasPrefix(stub.queries[0], "site:al.sp.gov.br ") {
		t.Errorf("queries = %q", stub.queries)
	}
	if len(sources) != 1 || sources[0].Kind != model.KindOfficial || sources[0].Origin != "assembleia" {
		t.Errorf("sources = %+v", sources)
	}

	sources, err = reg.Collect(context.Background(), model.Target{Name: "Ana Lima", State: "AC"})
	if err != nil || sources != nil {
		t.Errorf("unknown state should yield nothing, got %v, %v", sources, err)
	}
}

func TestCouncilRegistry_Domain(t *testing.T) {
	reg := NewCouncilRegistry(&stubSearcher{}, map[string]string{
		"3550308":         "saopaulo.sp.leg.br",
		"Ribeirão Preto": "camararp.sp.gov.br",
	})

	tests := []struct {
		target model.Target
		want   string
	}{
		{model.Target{City: "São Paulo", State: "SP", IBGECode: "3550308"}, "saopaulo.sp.leg.br"},
		{model.Target{City: "Ribeirão Preto", State: "SP"}, "camararp.sp.gov.br"},
		{model.Target{City: "São Bernardo do Campo", State: "SP"}, "camara.saobernardodocampo.sp.leg.br"},
		{model.Target{City: "Campinas"}, ""},
		{model.Target{State: "SP"}, ""},
	}

	for _, tt := range tests {
		if got := reg.Domain(tt.target); got != tt.want {
			t.Errorf("Domain(%+v) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestGazetteRegistry(t *testing.T) {
	var territory string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		territory = r.URL.Query().Get("territory_ids")
		if r.URL.Query().Get("querystring") != `"João Prefeito"` {
			t.Errorf("querystring = %q", r.URL.Query().Get("querystring"))
		}
		_, _ = fmt.Fprint(w, `{"total_gazettes":2,"gazettes":[
			{"territory_id":"3550308","territory_name":"São Paulo","state_code":"SP","date":"2024-02-01","url":"https://dom.sp.gov.br/1.pdf","excerpts":["decreto cria programa","e nomeia"]},
			{"territory_id":"3550308","territory_name":"São Paulo","state_code":"SP","date":"2024-01-01","url":"https://dom.sp.gov.br/2.pdf","excerpts":[]}
		]}`)
	}))
	defer server.Close()

	target := model.Target{Name: "João Prefeito", IBGECode: "3550308"}

	local := NewGazetteRegistry(testFetcher(), server.URL, 5, true)
	sources, err := local.Collect(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if territory != "3550308" {
		t.Errorf("territory_ids = %q", territory)
	}
	if len(sources) != 1 || sources[0].Content != "decreto cria programa\ne nomeia" {
		t.Errorf("sources = %+v", sources)
	}
	if sources[0].Title != "Diário Oficial de São Paulo (SP) 2024-02-01" {
		t.Errorf("Title = %q", sources[0].Title)
	}

	wide := NewGazetteRegistry(testFetcher(), server.URL, 5, false)
	if _, err := wide.Collect(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	if territory != "" {
		t.Errorf("non-territorial search sent territory_ids=%q", territory)
	}

	if got, _ := local.Collect(context.Background(), model.Target{Name: "x"}); got != nil {
		t.Error("territorial registry without IBGE code should yield nothing")
	}
}

func TestParseBRL(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1.234.567,89", 1234567.89},
		{"R$ 10,50", 10.5},
		{"0,00", 0},
		{"-", 0},
		{"", 0},
	}

	for _, tt := range tests {
		got, err := parseBRL(tt.in)
		if err != nil || math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("parseBRL(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseBRL("abc"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestTransparenciaBudget_Viability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("chave-api-dados") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("funcao") != "12" || r.URL.Query().Get("ano") != "2025" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = fmt.Fprint(w, `[
			{"ano":2025,"empenhado":"1.000.000,00","liquidado":"900.000,00","pago":"700.000,00"},
			{"ano":2025,"empenhado":1000000,"liquidado":0,"pago":"500.000,00"}
		]`)
	}))
	defer server.Close()

	b := NewTransparenciaBudget(testFetcher(), server.URL, "key")
	b.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	v, err := b.Viability(context.Background(), model.CategoryEducation, model.Target{})
	if err != nil {
		t.Fatalf("Viability() error = %v", err)
	}
	if !v.Viable || math.Abs(v.Confidence-0.6) > 1e-9 || v.Source != "live" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestTransparenciaBudget_Errors(t *testing.T) {
	b := NewTransparenciaBudget(testFetcher(), "https://example.invalid", "")
	if _, err := b.Viability(context.Background(), model.CategoryHealth, model.Target{}); err != ErrNotConfigured {
		t.Errorf("missing key err = %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `[]`)
	}))
	defer server.Close()
	b = NewTransparenciaBudget(testFetcher(), server.URL, "key")

	// GENERAL has no function code; an empty year has nothing to rate
	for _, c := range []model.Category{model.CategoryGeneral, model.CategoryHealth} {
		v, err := b.Viability(context.Background(), c, model.Target{})
		if err != nil || v.Source != "static" || v.Category != c {
			t.Errorf("Viability(%s) = %+v, %v; want the static verdict", c, v, err)
		}
	}

	b = NewTransparenciaBudget(testFetcher(), "http://127.0.0.1:1", "key")
	if _, err := b.Viability(context.Background(), model.CategoryHealth, model.Target{}); err == nil {
		t.Error("unreachable registry should fail")
	}
}

func TestStaticBudget(t *testing.T) {
	v, err := StaticBudget{}.Viability(context.Background(), model.CategoryInfrastructure, model.Target{})
	if err != nil {
		t.Fatal(err)
	}
	if v.Viable || v.Category != model.CategoryInfrastructure || v.Source != "static" {
		t.Errorf("verdict = %+v", v)
	}

	if v := StaticVerdict("UNKNOWN"); v.Category != model.CategoryGeneral {
		t.Errorf("unknown category should map to GENERAL, got %s", v.Category)
	}

	for _, c := range model.Categories {
		v := StaticVerdict(c)
		if v.Confidence < 0 || v.Confidence > 1 {
			t.Errorf("%s confidence %v out of range", c, v.Confidence)
		}
	}
}
