package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func openAIServer(t *testing.T, content string, check func(body string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		if check != nil {
			check(string(body))
		}

		resp := openai.ChatCompletionResponse{
			ID:      "chatcmpl-123",
			Object:  "chat.completion",
			Created: 1677652288,
			Model:   "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{
				{
					Index: 0,
					Message: openai.ChatCompletionMessage{
						Role:    "assistant",
						Content: content,
					},
					FinishReason: "stop",
				},
			},
			Usage: openai.Usage{TotalTokens: 100},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIProvider_Complete_Success(t *testing.T) {
	server := openAIServer(t, "  [{\"id\":\"0\"}]\n", func(body string) {
		if !strings.Contains(body, `"role":"system"`) || !strings.Contains(body, "sistema") {
			t.Errorf("system message missing from request: %s", body)
		}
		if !strings.Contains(body, "usuário") {
			t.Errorf("user message missing from request: %s", body)
		}
	})
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Model: "gpt-4o-mini", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	got, err := provider.Complete(context.Background(), "sistema", "usuário")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != `[{"id":"0"}]` {
		t.Errorf("Unexpected completion: %q", got)
	}
}

func TestOpenAIProvider_MissingKey(t *testing.T) {
	if _, err := NewOpenAIProvider(Config{}); err == nil {
		t.Fatal("Expected error for missing API key")
	}
}

func TestOpenAIProvider_Complete_APIError(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error": {"message": "failure", "type": "server_error"}}`))
		}))

		provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
		if err != nil {
			t.Fatalf("Failed to create provider: %v", err)
		}
		if _, err := provider.Complete(context.Background(), "s", "u"); err == nil {
			t.Errorf("status %d: expected error, got nil", status)
		}
		server.Close()
	}
}

func TestOpenAIProvider_Complete_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{malformed json`))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	if _, err := provider.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestOpenAIProvider_Complete_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	// The caller's shorter deadline wins over the configured timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := provider.Complete(ctx, "s", "u"); err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

func TestOpenAIProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"data": [{"id": "gpt-4o-mini"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be true")
	}

	server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be false on error")
	}
}

func TestVisionOCR(t *testing.T) {
	server := openAIServer(t, "PREFEITURA MUNICIPAL\nPlano de obras", func(body string) {
		if !strings.Contains(body, `"type":"image_url"`) {
			t.Errorf("request has no image part: %s", body)
		}
		if !strings.Contains(body, "data:image/jpeg;base64,/9j/") {
			t.Errorf("request has no base64 data URL: %s", body)
		}
		if !strings.Contains(body, `"model":"gpt-4o"`) {
			t.Errorf("vision model not used: %s", body)
		}
	})
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, VisionModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	ocr, err := NewVisionOCR(provider)
	if err != nil {
		t.Fatalf("NewVisionOCR: %v", err)
	}

	got, err := ocr.OCR(context.Background(), []byte{0xff, 0xd8, 0xff}, "image/jpeg")
	if err != nil {
		t.Fatalf("OCR failed: %v", err)
	}
	if got != "PREFEITURA MUNICIPAL\nPlano de obras" {
		t.Errorf("Unexpected OCR text: %q", got)
	}
}

func TestVisionOCR_RequiresOpenAI(t *testing.T) {
	ollama, _ := NewOllamaProvider(Config{Model: "llava"})
	for _, p := range []Provider{nil, ollama} {
		if _, err := NewVisionOCR(p); err != ErrDisabled {
			t.Errorf("NewVisionOCR(%T) error = %v, want ErrDisabled", p, err)
		}
	}
}
