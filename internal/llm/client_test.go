package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// fakeAnthropic serves /v1/messages with a canned text reply and records the last request body.
func fakeAnthropic(t *testing.T, reply string, status int) (*httptest.Server, *map[string]any) {
	t.Helper()
	var last map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &last)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"overloaded"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-5",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": reply}},
			"usage":       map[string]any{"input_tokens": 12, "output_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		APIKey:  "sk-ant-test",
		Options: []option.RequestOption{option.WithBaseURL(srv.URL), option.WithMaxRetries(0)},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClient_WithAPIKey(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key-123"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != DefaultModel {
		t.Errorf("Model = %q, want %q", client.Model(), DefaultModel)
	}
	if client.Tracker() == nil {
		t.Error("Tracker should not be nil")
	}
}

func TestNewClient_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error when no API key is available")
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	if got := translateModelForBedrock("claude-sonnet-4-5"); got != "us.anthropic.claude-sonnet-4-5-20250929-v1:0" {
		t.Errorf("translate = %q", got)
	}
	if got := translateModelForBedrock("custom-model"); got != "custom-model" {
		t.Errorf("unknown model should pass through, got %q", got)
	}
}

func TestClient_Classify(t *testing.T) {
	srv, last := fakeAnthropic(t, `{"agent": "browser", "reason": "needs the web"}`, http.StatusOK)
	c := newTestClient(t, srv)

	got, err := c.Classify(context.Background(), "route it", "cari harga iphone")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !strings.Contains(got, `"browser"`) {
		t.Errorf("Classify = %q", got)
	}

	req := *last
	if req["temperature"] != float64(0) {
		t.Errorf("temperature = %v, want 0", req["temperature"])
	}
	if req["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v, want 256", req["max_tokens"])
	}

	in, out := c.Tracker().Total()
	if in != 12 || out != 3 || c.Tracker().Calls() != 1 {
		t.Errorf("tracker = (%d, %d, %d calls)", in, out, c.Tracker().Calls())
	}
}

func TestClient_CompleteReplaysHistory(t *testing.T) {
	srv, last := fakeAnthropic(t, "Halo!", http.StatusOK)
	c := newTestClient(t, srv)

	got, err := c.Complete(context.Background(), CompletionRequest{
		System: "You are Aria.",
		History: []models.Turn{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
		},
		Prompt: "apa kabar?",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Halo!" {
		t.Errorf("Complete = %q, want Halo!", got)
	}

	msgs, _ := (*last)["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(msgs))
	}
	second, _ := msgs[1].(map[string]any)
	if second["role"] != "assistant" {
		t.Errorf("second message role = %v, want assistant", second["role"])
	}
	if _, ok := (*last)["temperature"]; ok {
		t.Error("temperature should be omitted when unset")
	}
}

func TestClient_EmptyReply(t *testing.T) {
	srv, _ := fakeAnthropic(t, "   ", http.StatusOK)
	c := newTestClient(t, srv)

	if _, err := c.Complete(context.Background(), CompletionRequest{Prompt: "x"}); err != ErrEmptyResponse {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestClient_APIError(t *testing.T) {
	srv, _ := fakeAnthropic(t, "", http.StatusInternalServerError)
	c := newTestClient(t, srv)

	if _, err := c.Classify(context.Background(), "s", "u"); err == nil {
		t.Error("expected error from failing API")
	}
}
