package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/cogbattery/internal/model"
)

func newTestGeminiProvider(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("NewGeminiProvider: %v", err)
	}
	return p
}

func TestGeminiProviderJSONMode(t *testing.T) {
	var (
		path, apiKey string
		body         map[string]any
	)
	p := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		path, apiKey = r.URL.Path, r.Header.Get("x-goog-api-key")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": creativeReply}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":     400,
				"candidatesTokenCount": 60,
				"totalTokenCount":      460,
			},
		})
	})

	g := newTestGrader(t, p)
	out, err := g.Grade(context.Background(), model.GradingRequest{Type: model.TaskCreative, Prompt: "Describe Red", Text: "Red."})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if out.Scores["imagery_detail"] != 4 {
		t.Errorf("scores = %v", out.Scores)
	}

	if !strings.HasSuffix(path, "models/gemini-2.0-flash:generateContent") {
		t.Errorf("path = %q", path)
	}
	if apiKey != "test-key" {
		t.Errorf("api key header = %q", apiKey)
	}
	gen, _ := body["generationConfig"].(map[string]any)
	if gen["responseMimeType"] != "application/json" {
		t.Errorf("generationConfig = %v, want JSON mime type", body["generationConfig"])
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Error("request has no system instruction")
	}
}

func TestGeminiProviderRequiresKey(t *testing.T) {
	if _, err := NewGeminiProvider(context.Background(), GeminiConfig{Model: "gemini-2.0-flash"}); err == nil {
		t.Fatal("expected error without API key")
	}
}
