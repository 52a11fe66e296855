package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/promessa/internal/cache"
	"github.com/ppiankov/promessa/internal/connector"
	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/llm"
	"github.com/ppiankov/promessa/internal/model"
	"github.com/ppiankov/promessa/internal/resilience"
	"github.com/ppiankov/promessa/internal/score"
	"github.com/ppiankov/promessa/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func fixedEngine() *score.Engine {
	return score.NewEngine(score.WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "analysis-" + strconv.Itoa(n)
	}
}

type stubExtractor struct {
	result   *llm.Extraction
	err      error
	evidence string
}

func (s *stubExtractor) Extract(_ context.Context, evidence string) (*llm.Extraction, error) {
	s.evidence = evidence
	return s.result, s.err
}

type countingBudget struct {
	verdict model.BudgetVerdict
	err     error
	calls   atomic.Int32
}

func (c *countingBudget) Viability(context.Context, model.Category, model.Target) (model.BudgetVerdict, error) {
	c.calls.Add(1)
	return c.verdict, c.err
}

type fakeVotes struct {
	id    string
	votes []model.VoteRecord
	asked string
}

func (f *fakeVotes) ResolveID(context.Context, model.Target) (string, error) { return f.id, nil }

func (f *fakeVotes) RecentVotes(_ context.Context, id string) ([]model.VoteRecord, error) {
	f.asked = id
	return f.votes, nil
}

type failingStore struct{}

func (failingStore) PriorAnalyses(context.Context, string, string, int) ([]model.Analysis, error) {
	return nil, nil
}

func (failingStore) SaveAnalysis(context.Context, *model.Analysis) error {
	return errors.New("disk full")
}

var schoolEvidence = []model.FilteredSource{{
	RawSource: model.RawSource{
		Title:      "Entrevista",
		URL:        "https://g1.globo.com/educacao/entrevista",
		Content:    "Vou construir 10 escolas até 2027. O tempo está bom hoje.",
		Kind:       model.KindNews,
		Confidence: model.ConfidenceMedium,
	},
	RelevanceScore:   0.9,
	IsPromiseBearing: true,
}}

var fundebVotes = []model.VoteRecord{
	{PropositionID: "v1", Date: "2025-06-01", BallotText: "PEC que amplia os recursos do Fundeb", VoteValue: "Não", URL: "https://camara.leg.br/v1"},
	{PropositionID: "v2", Date: "2025-05-01", BallotText: "Fundeb permanente", VoteValue: "Sim"},
	{PropositionID: "v3", Date: "2024-11-20", BallotText: "Piso salarial dos professores da educação básica", VoteValue: "Não"},
}

func TestSynthesize_LocalFallback(t *testing.T) {
	st := openStore(t)
	s := New(st, WithEngine(fixedEngine()), WithIDFunc(sequentialIDs()))

	result, err := s.Synthesize(context.Background(), model.Target{Name: "Maria Souza"}, schoolEvidence, Params{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	if result.AnalysisID != "analysis-1" {
		t.Errorf("AnalysisID = %q", result.AnalysisID)
	}
	if len(result.Promises) != 1 {
		t.Fatalf("promises = %+v, want one", result.Promises)
	}
	p := result.Promises[0]
	if p.Category != model.CategoryEducation || p.SourceName != "Entrevista" || !strings.HasPrefix(p.Text, "Vou construir 10 escolas") {
		t.Errorf("promise = %+v", p)
	}
	if result.Budget == nil || result.Budget.Category != model.CategoryEducation || result.Budget.Source != "static" {
		t.Errorf("budget = %+v, want static education verdict", result.Budget)
	}
	if result.Score != 65.5 || result.RiskLevel != model.RiskLow {
		t.Errorf("score = %v (%v), want 65.5 (low)", result.Score, result.RiskLevel)
	}

	saved, err := st.GetAnalysis(context.Background(), "analysis-1")
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if saved.Status != model.AnalysisCompleted || saved.Author != "Maria Souza" || saved.SourceCount != 1 {
		t.Errorf("saved analysis = %+v", saved)
	}
	if saved.Score != 65.5 || len(saved.Promises) != 1 {
		t.Errorf("saved score/promises = %v/%d", saved.Score, len(saved.Promises))
	}
}

func TestSynthesize_AuthorTrackFromHistory(t *testing.T) {
	st := openStore(t)
	prior := &model.Analysis{ID: "old", TargetName: "Maria", Author: "Maria", Status: model.AnalysisCompleted, Score: 80}
	if err := st.SaveAnalysis(context.Background(), prior); err != nil {
		t.Fatalf("SaveAnalysis() error = %v", err)
	}

	s := New(st, WithEngine(fixedEngine()), WithIDFunc(sequentialIDs()))
	result, err := s.Synthesize(context.Background(), model.Target{Name: "Maria"}, schoolEvidence, Params{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	if result.Factors.AuthorTrack != 0.8 {
		t.Errorf("AuthorTrack = %v, want 0.8 from the prior average", result.Factors.AuthorTrack)
	}
	if result.Score != 71.5 {
		t.Errorf("Score = %v, want 71.5", result.Score)
	}
}

func TestSynthesize_ExtractorAndCategory(t *testing.T) {
	credibility := 0.3
	ext := &stubExtractor{result: &llm.Extraction{
		Promises: []model.PromiseStatement{
			{Text: "Vamos cuidar da cidade", Category: model.CategoryGeneral, Confidence: 0.8},
			{Text: "Vou abrir 5 UBS", Category: model.CategoryHealth, Confidence: 0.7},
		},
		OverallSentiment: "positive",
		CredibilityScore: &credibility,
	}}
	st := openStore(t)
	s := New(st, WithExtractor(ext), WithEngine(fixedEngine()), WithIDFunc(sequentialIDs()))

	result, err := s.Synthesize(context.Background(), model.Target{Name: "Rui"}, schoolEvidence,
		Params{Author: "Rui Costa", Category: model.CategoryInfrastructure})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	gotCategories := []model.Category{result.Promises[0].Category, result.Promises[1].Category}
	if diff := cmp.Diff([]model.Category{model.CategoryInfrastructure, model.CategoryHealth}, gotCategories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
	if result.Factors.AuthorTrack != 0.3 {
		t.Errorf("AuthorTrack = %v, want the model credibility 0.3", result.Factors.AuthorTrack)
	}
	if result.Budget.Category != model.CategoryInfrastructure {
		t.Errorf("budget category = %v, want the caller's", result.Budget.Category)
	}
	for _, want := range []string{"Histórico: nenhuma análise anterior de Rui Costa.", "Orçamento (INFRASTRUCTURE)", "[1] Entrevista", "URL: https://g1.globo.com/educacao/entrevista", "Credibilidade: medium (news)"} {
		if !strings.Contains(ext.evidence, want) {
			t.Errorf("evidence context missing %q:\n%s", want, ext.evidence)
		}
	}

	saved, err := st.GetAnalysis(context.Background(), result.AnalysisID)
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if saved.Author != "Rui Costa" || !strings.Contains(saved.Summary, "sentiment positive") {
		t.Errorf("saved = %+v", saved)
	}
}

func TestSynthesize_ExtractorFailureFallsBack(t *testing.T) {
	ext := &stubExtractor{err: errors.New("llm: parse extraction: missing promises")}
	s := New(openStore(t), WithExtractor(ext), WithEngine(fixedEngine()))

	result, err := s.Synthesize(context.Background(), model.Target{Name: "Maria"}, schoolEvidence, Params{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(result.Promises) != 1 || result.Promises[0].Reasoning != "keyword:vou" {
		t.Errorf("promises = %+v, want the keyword extraction", result.Promises)
	}
}

func TestSynthesize_OverwritesExistingAnalysis(t *testing.T) {
	st := openStore(t)
	s := New(st, WithEngine(fixedEngine()))
	params := Params{ExistingAnalysisID: "fixed-id"}

	for i := 0; i < 2; i++ {
		result, err := s.Synthesize(context.Background(), model.Target{Name: "Maria"}, schoolEvidence, params)
		if err != nil {
			t.Fatalf("Synthesize() #%d error = %v", i, err)
		}
		if result.AnalysisID != "fixed-id" {
			t.Errorf("AnalysisID = %q", result.AnalysisID)
		}
	}

	saved, err := st.GetAnalysis(context.Background(), "fixed-id")
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if len(saved.Promises) != 1 {
		t.Errorf("promises = %d after two runs, want 1", len(saved.Promises))
	}
}

func TestSynthesize_BudgetSource(t *testing.T) {
	live := &countingBudget{verdict: model.BudgetVerdict{
		Category: model.CategoryEducation, Viable: false, Confidence: 0.35, Reason: "execução de 35%", Source: "live",
	}}
	ic := cache.NewIntelligent(cache.NewMemoryCache(time.Hour, time.Minute))
	s := New(openStore(t), WithBudget(live), WithCache(ic, time.Hour, time.Hour))

	for i := 0; i < 2; i++ {
		result, err := s.Synthesize(context.Background(), model.Target{Name: "Maria"}, schoolEvidence, Params{})
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if result.Budget.Source != "live" || result.Factors.BudgetaryFeasibility != 0.3 {
			t.Errorf("budget = %+v, feasibility %v", result.Budget, result.Factors.BudgetaryFeasibility)
		}
	}
	if live.calls.Load() != 1 {
		t.Errorf("budget calls = %d, want 1 (cached)", live.calls.Load())
	}

	broken := &countingBudget{err: errors.New("503")}
	result, err := New(openStore(t), WithBudget(broken)).
		Synthesize(context.Background(), model.Target{Name: "Maria"}, schoolEvidence, Params{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if result.Budget.Source != "static" || result.Budget.Category != model.CategoryEducation {
		t.Errorf("budget = %+v, want the static fallback", result.Budget)
	}
}

func TestSynthesize_UnratedBudgetKeepsBreakerClosed(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = fmt.Fprint(w, `[{"ano":2025,"empenhado":1000,"liquidado":900,"pago":800}]`)
	}))
	defer server.Close()

	f := fetch.NewFetcher(5*time.Second, "promessa-test", 1<<20, fetch.WithMaxRetries(1))
	breakers := resilience.NewRegistry(resilience.WithFailureThreshold(2))

	unconfigured := New(openStore(t), WithBreakers(breakers), WithBudget(connector.NewTransparenciaBudget(f, "", "")))
	live := New(openStore(t), WithBreakers(breakers), WithBudget(connector.NewTransparenciaBudget(f, server.URL, "key")))

	for i := 0; i < 5; i++ {
		for _, s := range []*Synthesizer{unconfigured, live} {
			result, err := s.Synthesize(context.Background(), model.Target{Name: "Maria"}, schoolEvidence, Params{Category: model.CategoryGeneral})
			if err != nil {
				t.Fatalf("Synthesize() error = %v", err)
			}
			if result.Budget.Source != "static" || result.Budget.Category != model.CategoryGeneral {
				t.Errorf("budget = %+v, want the static GENERAL verdict", result.Budget)
			}
		}
	}
	if state := breakers.Snapshot("budget"); state.State != "CLOSED" || state.FailureCount != 0 {
		t.Fatalf("budget breaker = %+v, want closed with no failures", state)
	}
	if hits.Load() != 0 {
		t.Errorf("registry hits = %d, want none for GENERAL", hits.Load())
	}

	result, err := live.Synthesize(context.Background(), model.Target{Name: "Maria"}, schoolEvidence, Params{Category: model.CategoryEducation})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if result.Budget.Source != "live" {
		t.Errorf("budget = %+v, want the live verdict after GENERAL traffic", result.Budget)
	}
}

func TestSynthesize_LegislativeIncoherence(t *testing.T) {
	ext := &stubExtractor{result: &llm.Extraction{Promises: []model.PromiseStatement{
		{Text: "Vou ampliar os recursos do Fundeb", Category: model.CategoryEducation, Confidence: 0.8},
	}}}
	votes := &fakeVotes{id: "204554", votes: fundebVotes}
	st := openStore(t)
	s := New(st, WithExtractor(ext), WithVotes(votes))

	result, err := s.Synthesize(context.Background(), model.Target{Name: "Carlos", Office: "Deputado Federal"}, schoolEvidence, Params{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if votes.asked != "204554" {
		t.Errorf("votes requested for %q, want the resolved id", votes.asked)
	}

	inc := result.Promises[0].LegislativeIncoherence
	if inc == nil || inc.VoteID != "v1" || inc.SourceURL != "https://camara.leg.br/v1" {
		t.Fatalf("incoherence = %+v, want vote v1", inc)
	}

	var signal bool
	for _, sig := range result.Signals {
		if sig.Type == model.SignalIncoherence {
			signal = true
		}
	}
	if !signal {
		t.Error("missing legislative_incoherence signal")
	}

	saved, err := st.GetAnalysis(context.Background(), result.AnalysisID)
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if saved.Promises[0].LegislativeIncoherence == nil || saved.Promises[0].LegislativeIncoherence.VoteID != "v1" {
		t.Errorf("persisted incoherence = %+v", saved.Promises[0].LegislativeIncoherence)
	}
}

func TestSynthesize_PersistFailure(t *testing.T) {
	_, err := New(failingStore{}).Synthesize(context.Background(), model.Target{Name: "X"}, schoolEvidence, Params{})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Synthesize() error = %v, want the store error", err)
	}
}

func TestCheckIncoherence(t *testing.T) {
	promises := []model.PromiseStatement{
		{Text: "Vou ampliar os recursos do Fundeb"},
		{Text: "Não vou aumentar o investimento em escolas", Negated: true},
		{Text: "Vamos construir dois hospitais"},
	}

	findings := CheckIncoherence(promises, fundebVotes)

	if len(findings) != 1 {
		t.Fatalf("findings = %d, want exactly 1: %+v", len(findings), findings)
	}
	f := findings[0]
	if f.Vote.PropositionID != "v1" || f.TopicMatched != model.CategoryEducation || f.Promise != &promises[0] {
		t.Errorf("finding = %+v", f)
	}
	if promises[0].LegislativeIncoherence == nil || promises[1].LegislativeIncoherence != nil || promises[2].LegislativeIncoherence != nil {
		t.Errorf("incoherence marks = %v %v %v",
			promises[0].LegislativeIncoherence, promises[1].LegislativeIncoherence, promises[2].LegislativeIncoherence)
	}
	if !strings.Contains(promises[0].LegislativeIncoherence.Text, `"Não" of 2025-06-01`) {
		t.Errorf("explanation = %q", promises[0].LegislativeIncoherence.Text)
	}
}

func TestCheckIncoherence_NoVotes(t *testing.T) {
	promises := []model.PromiseStatement{{Text: "Vou ampliar o Fundeb"}}
	if got := CheckIncoherence(promises, nil); got != nil {
		t.Errorf("CheckIncoherence(nil votes) = %+v", got)
	}
}
