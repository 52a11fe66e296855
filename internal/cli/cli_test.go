package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/promessa/internal/model"
)

// offlineConfig points every registry at a stub that knows nobody
func offlineConfig(t *testing.T) *model.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dados":[]}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := model.DefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "data", "promessa.db")
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Registries.CamaraBaseURL = srv.URL
	cfg.HTTP.RespectRobots = false
	return cfg
}

func TestNewApp_AnalyzesStatement(t *testing.T) {
	a, err := newApp(offlineConfig(t), nil)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()

	req := model.AnalysisRequest{
		Target: model.Target{Name: "Ana Lima", Office: "Prefeita", State: "SP", City: "Campinas"},
		Text:   "Vou construir 10 escolas até 2027.",
	}
	res, err := a.analyzer.RunAnalysis(context.Background(), req)
	if err != nil {
		t.Fatalf("RunAnalysis() error = %v", err)
	}
	if len(res.Promises) != 1 || res.Promises[0].Category != model.CategoryEducation {
		t.Errorf("promises = %+v", res.Promises)
	}

	saved, err := a.store.GetAnalysis(context.Background(), res.AnalysisID)
	if err != nil || saved.Status != model.AnalysisCompleted {
		t.Errorf("GetAnalysis() = %+v, %v", saved, err)
	}
}

func TestNewApp_DispatchRunsInlineWithoutQueue(t *testing.T) {
	a, err := newApp(offlineConfig(t), nil)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()

	if a.queue != nil {
		t.Fatalf("queue = %v, want none for an empty backend", a.queue)
	}
	d, err := a.dispatcher.Dispatch(context.Background(), model.AnalysisRequest{
		Target: model.Target{Name: "Ana Lima"},
		Text:   "Vou ampliar o atendimento nas unidades de saúde.",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if d.Async || d.Status.State != model.JobCompleted {
		t.Errorf("Dispatch() = %+v, want inline completion", d)
	}
	status, err := a.store.GetJob(context.Background(), d.JobID)
	if err != nil || status.AnalysisID == "" {
		t.Errorf("GetJob() = %+v, %v", status, err)
	}
}

func TestOpenQueue(t *testing.T) {
	tests := []struct {
		name    string
		cfg     model.QueueConfig
		wantErr string
	}{
		{"inline", model.QueueConfig{}, ""},
		{"redis without address", model.QueueConfig{Backend: "redis"}, "redis_addr"},
		{"kafka without brokers", model.QueueConfig{Backend: "kafka"}, "kafka_brokers"},
		{"unknown", model.QueueConfig{Backend: "nats"}, "unknown queue backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := openQueue(tt.cfg, nil)
			if tt.wantErr == "" {
				if err != nil || q != nil {
					t.Errorf("openQueue() = %v, %v; want nil, nil", q, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("openQueue() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuildRequest(t *testing.T) {
	office, state, city, category, deepSearch = "Prefeita", "SP", "Campinas", "saude", true
	t.Cleanup(func() { office, state, city, category, deepSearch = "", "", "", "", false })

	got := buildRequest("Ana Lima")
	want := model.AnalysisRequest{
		Target:     model.Target{Name: "Ana Lima", Office: "Prefeita", State: "SP", City: "Campinas"},
		Category:   model.CategoryGeneral,
		DeepSearch: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	category = "health"
	if got := buildRequest("Ana Lima"); got.Category != model.CategoryHealth {
		t.Errorf("Category = %q, want HEALTH", got.Category)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Ana Lima Campinas":        "ana-lima-campinas",
		"João D'Ávila / São Paulo": "joao-d-avila-sao-paulo",
		"  ":                       "target",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskSecrets(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"
	cfg.Search.APIKey = "brave"

	masked := maskSecrets(*cfg)
	if masked.LLM.APIKey != "****" || masked.Search.APIKey != "****" || masked.Registries.BudgetAPIKey != "" {
		t.Errorf("masked = %+v %+v %+v", masked.LLM, masked.Search, masked.Registries.BudgetAPIKey)
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Error("maskSecrets modified the original config")
	}
}
