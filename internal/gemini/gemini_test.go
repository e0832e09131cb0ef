package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bearmind/bearmind/internal/assemble"
	"github.com/bearmind/bearmind/internal/types"
)

func sseChunk(text string) string {
	chunk := streamChunk{Candidates: []candidate{{Content: content{Parts: []part{{Text: text}}}}}}
	raw, _ := json.Marshal(chunk)
	return "data: " + string(raw) + "\n\n"
}

func TestStreamGenerateAccumulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("expected alt=sse, got %q", r.URL.Query().Get("alt"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Hello"))
		fmt.Fprint(w, sseChunk(", world"))
		fmt.Fprint(w, sseChunk("!"))
	}))
	defer srv.Close()

	c := NewClient("test-key").WithBaseURL(srv.URL)

	var partials []string
	result, err := c.StreamGenerate(context.Background(), DefaultModel,
		assemble.Assembled{UserParts: []assemble.Part{{Text: "hi"}}}, false,
		func(text string) { partials = append(partials, text) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "Hello, world!" {
		t.Errorf("unexpected final text %q", result.Text)
	}

	// Every partial extends the previous one.
	want := []string{"Hello", "Hello, world", "Hello, world!"}
	if len(partials) != len(want) {
		t.Fatalf("expected %d partials, got %v", len(want), partials)
	}
	for i := range want {
		if partials[i] != want[i] {
			t.Errorf("partial %d = %q, want %q", i, partials[i], want[i])
		}
	}
}

func TestStreamGenerateMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		final := streamChunk{
			Candidates: []candidate{{
				Content:      content{Parts: []part{{Text: "answer"}}},
				FinishReason: "STOP",
				GroundingMetadata: &types.GroundingMetadata{
					WebSearchQueries: []string{"go generics"},
				},
			}},
			UsageMetadata: &types.UsageMetadata{TotalTokens: 321, PromptTokens: 300},
		}
		raw, _ := json.Marshal(final)
		fmt.Fprintf(w, "data: %s\n\n", raw)
	}))
	defer srv.Close()

	c := NewClient("test-key").WithBaseURL(srv.URL)
	result, err := c.StreamGenerate(context.Background(), DefaultModel,
		assemble.Assembled{UserParts: []assemble.Part{{Text: "q"}}}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 321 {
		t.Errorf("usage metadata lost: %+v", result.Usage)
	}
	if result.Grounding == nil || len(result.Grounding.WebSearchQueries) != 1 {
		t.Errorf("grounding metadata lost: %+v", result.Grounding)
	}
}

func TestStreamGenerateRequestShape(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, sseChunk("ok"))
	}))
	defer srv.Close()

	payload := assemble.Assembled{
		History: []assemble.HistoryEntry{
			{Role: "user", Text: "earlier question"},
			{Role: "model", Text: "earlier answer"},
		},
		SystemPrompt: assemble.SystemPrompt,
		UserParts: []assemble.Part{
			{FileURI: "https://www.youtube.com/watch?v=abc12345678", MimeType: types.VideoMimeType},
			{Text: "what happens at the start"},
		},
	}

	c := NewClient("test-key").WithBaseURL(srv.URL)
	if _, err := c.StreamGenerate(context.Background(), DefaultModel, payload, true, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != assemble.SystemPrompt {
		t.Error("system instruction not forwarded")
	}
	if len(got.Contents) != 3 {
		t.Fatalf("expected history + user message, got %d contents", len(got.Contents))
	}
	if got.Contents[0].Role != "user" || got.Contents[1].Role != "model" {
		t.Errorf("history roles wrong: %s, %s", got.Contents[0].Role, got.Contents[1].Role)
	}
	user := got.Contents[2]
	if user.Role != "user" || len(user.Parts) != 2 {
		t.Fatalf("unexpected user message: %+v", user)
	}
	if user.Parts[0].FileData == nil || user.Parts[0].FileData.MimeType != "video/youtube" {
		t.Errorf("media part not mapped: %+v", user.Parts[0])
	}
	if len(got.Tools) != 1 || got.Tools[0].GoogleSearch == nil {
		t.Errorf("search tool not attached: %+v", got.Tools)
	}
}

func TestStreamGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	c := NewClient("test-key").WithBaseURL(srv.URL)
	_, err := c.StreamGenerate(context.Background(), DefaultModel,
		assemble.Assembled{UserParts: []assemble.Part{{Text: "q"}}}, false, nil)
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Errorf("expected quota error, got %v", err)
	}
}

func TestGenerateResponseMissingKey(t *testing.T) {
	c := NewClient("")

	var toastTitle string
	result := c.GenerateResponse(context.Background(), DefaultModel,
		assemble.Assembled{UserParts: []assemble.Part{{Text: "q"}}}, false, nil,
		func(title, message string) { toastTitle = title })

	if result.Text != "No API key provided. Please add your Gemini API key in settings." {
		t.Errorf("unexpected reply %q", result.Text)
	}
	if toastTitle != "API Key Required" {
		t.Errorf("unexpected toast %q", toastTitle)
	}
}

func TestGenerateResponseProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	c := NewClient("test-key").WithBaseURL(srv.URL)

	var toastTitle string
	result := c.GenerateResponse(context.Background(), DefaultModel,
		assemble.Assembled{UserParts: []assemble.Part{{Text: "q"}}}, false, nil,
		func(title, message string) { toastTitle = title })

	if !strings.HasPrefix(result.Text, "I encountered an error while processing your request. Error: ") {
		t.Errorf("unexpected reply %q", result.Text)
	}
	if toastTitle != "AI Generation Error" {
		t.Errorf("unexpected toast %q", toastTitle)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := listModelsResponse{Models: []modelInfo{
			{Name: "models/gemini-2.0-flash", SupportedMethods: []string{"generateContent"}},
			{Name: "models/text-embedding-004", SupportedMethods: []string{"embedContent"}},
			{Name: "models/gemini-2.5-pro-exp-03-25", SupportedMethods: []string{"generateContent", "countTokens"}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("test-key").WithBaseURL(srv.URL)
	names, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"gemini-2.0-flash", "gemini-2.5-pro-exp-03-25"}
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("unexpected models %v", names)
	}
}
