package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/imaging"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := range 32 {
		for y := range 32 {
			img.Set(x, y, color.RGBA{R: 40, G: 80, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func validJSON(content string) error {
	var v map[string]any
	return DecodeJSON(content, &v)
}

// --- Sanitize tests ---

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", "  {\"a\":1}  ", `{"a":1}`},
		{"prose around fence", "Here you go:\n```json\n{\"a\":1}\n```\nThanks", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.input); got != tt.want {
				t.Errorf("StripCodeFence(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"object with prose", `Sure! {"gender":"male"} hope this helps`, `{"gender":"male"}`},
		{"nested", `{"clothing":{"upper":"red"}} tail`, `{"clothing":{"upper":"red"}}`},
		{"array", `result: [{"a":1},{"b":2}] done`, `[{"a":1},{"b":2}]`},
		{"brace in string", `{"features":"scar shaped like }"} x`, `{"features":"scar shaped like }"}`},
		{"escaped quote", `{"a":"say \"}\" now"} x`, `{"a":"say \"}\" now"}`},
		{"no json", "nothing here", "nothing here"},
		{"unbalanced", `{"a":1`, `{"a":1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.input); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecodeJSON_Fenced(t *testing.T) {
	var out struct {
		Gender string `json:"gender"`
	}
	if err := DecodeJSON("```json\n{\"gender\": \"female\"}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if out.Gender != "female" {
		t.Errorf("expected gender 'female', got '%s'", out.Gender)
	}
}

func TestDecodeJSON_Invalid(t *testing.T) {
	var out map[string]any
	err := DecodeJSON("I cannot describe this image.", &out)
	if !IsParseError(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}

	var pe *ParseError
	errors.As(err, &pe)
	if pe.Raw != "I cannot describe this image." {
		t.Errorf("expected raw response to be kept, got %q", pe.Raw)
	}
}

func TestDecodeJSON_Empty(t *testing.T) {
	var out map[string]any
	if err := DecodeJSON("   ", &out); !IsParseError(err) {
		t.Errorf("expected ParseError for empty response, got %v", err)
	}
}

// --- Prompt tests ---

func TestGroupPrompt_ContainsCount(t *testing.T) {
	if !strings.Contains(GroupPrompt(4), "4") {
		t.Error("expected group prompt to mention the number of images")
	}
}

func TestBuildCompareContent(t *testing.T) {
	content := BuildCompareContent([]byte(`{"gender":"male"}`), []byte(`{"gender":"female"}`))
	if !strings.Contains(content, `{"gender":"male"}`) || !strings.Contains(content, `{"gender":"female"}`) {
		t.Errorf("expected both descriptors in content, got %q", content)
	}
}

// --- Usage tests ---

func TestUsageTracker_Cost(t *testing.T) {
	var tracker usageTracker
	tracker.pricing = RequestPricing{Input: 1.0, Output: 2.0}

	tracker.trackUsage(1_000_000, 500_000)

	usage := tracker.GetUsage()
	if usage.InputTokens != 1_000_000 || usage.OutputTokens != 500_000 {
		t.Errorf("unexpected token counts: %+v", usage)
	}
	if usage.TotalCost != 2.0 {
		t.Errorf("expected cost 2.0, got %f", usage.TotalCost)
	}

	tracker.ResetUsage()
	if tracker.GetUsage() != (Usage{}) {
		t.Error("expected zero usage after reset")
	}
}

// --- Ollama tests ---

func ollamaServer(t *testing.T, answers ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Format != "json" {
			t.Errorf("expected json format, got %q", req.Format)
		}

		n := int(calls.Add(1)) - 1
		if n >= len(answers) {
			n = len(answers) - 1
		}
		resp := ollamaResponse{Done: true, PromptEvalCount: 10, EvalCount: 5}
		resp.Message.Role = "assistant"
		resp.Message.Content = answers[n]
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOllamaProvider_Complete(t *testing.T) {
	srv, calls := ollamaServer(t, `{"gender":"male"}`)
	p := NewOllamaProvider(srv.URL, "test-model")

	content, err := p.Complete(context.Background(), Request{
		Instructions: PersonPrompt(),
		Text:         "Describe this person.",
		Images:       [][]byte{testJPEG(t)},
		Validate:     validJSON,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != `{"gender":"male"}` {
		t.Errorf("unexpected content %q", content)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
	if usage := p.GetUsage(); usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Errorf("unexpected usage %+v", usage)
	}
}

func TestOllamaProvider_RetriesInvalidJSON(t *testing.T) {
	srv, calls := ollamaServer(t, "not json", `{"gender":"female"}`)
	p := NewOllamaProvider(srv.URL, "")

	content, err := p.Complete(context.Background(), Request{Text: "x", Validate: validJSON})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != `{"gender":"female"}` {
		t.Errorf("unexpected content %q", content)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestOllamaProvider_ExhaustedRetries(t *testing.T) {
	srv, calls := ollamaServer(t, "still not json")
	p := NewOllamaProvider(srv.URL, "")

	content, err := p.Complete(context.Background(), Request{Text: "x", Validate: validJSON})
	if !IsParseError(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if content != "still not json" {
		t.Errorf("expected last response to be returned, got %q", content)
	}
	if int(calls.Load()) != maxRetries {
		t.Errorf("expected %d calls, got %d", maxRetries, calls.Load())
	}
}

func TestOllamaProvider_ExhaustedRetries_SingleParsePrefix(t *testing.T) {
	srv, _ := ollamaServer(t, "still not json")
	p := NewOllamaProvider(srv.URL, "")

	_, err := p.Complete(context.Background(), Request{Text: "x", Validate: validJSON})
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := strings.Count(err.Error(), "failed to parse model response"); n != 1 {
		t.Errorf("expected the parse prefix once, got %d in %q", n, err.Error())
	}
}

func TestParseCause(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"parse error", &ParseError{Raw: "{", Err: inner}, inner},
		{"wrapped parse error", fmt.Errorf("validate: %w", &ParseError{Err: inner}), inner},
		{"plain error", inner, inner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseCause(tt.err); got != tt.want {
				t.Errorf("parseCause() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOllamaProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	_, err := p.Complete(context.Background(), Request{Text: "x"})
	if !backend.IsUnavailable(err) {
		t.Errorf("expected unavailable error, got %v", err)
	}
}

func TestOllamaProvider_TooManyImages(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", "")
	img := testJPEG(t)

	_, err := p.Complete(context.Background(), Request{Images: [][]byte{img, img}})
	if err == nil {
		t.Error("expected error for more images than supported")
	}
}

func TestOllamaProvider_InvalidImage(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", "")

	_, err := p.Complete(context.Background(), Request{Images: [][]byte{[]byte("garbage")}})
	if !imaging.IsDecodeError(err) {
		t.Errorf("expected DecodeError, got %v", err)
	}
}

// --- llama.cpp tests ---

func TestNewLlamaCppProvider_InvalidURL(t *testing.T) {
	for _, u := range []string{"ftp://host", "http://", "::bad"} {
		if _, err := NewLlamaCppProvider(u, ""); err == nil {
			t.Errorf("expected error for URL %q", u)
		}
	}
}

func TestLlamaCppProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		messages, _ := req["messages"].([]any)
		if len(messages) != 2 {
			t.Errorf("expected 2 messages, got %d", len(messages))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"similarity_score\":0.7}"}}],"usage":{"prompt_tokens":3,"completion_tokens":4}}`))
	}))
	defer srv.Close()

	p, err := NewLlamaCppProvider(srv.URL, "llava")
	if err != nil {
		t.Fatalf("NewLlamaCppProvider failed: %v", err)
	}

	content, err := p.Complete(context.Background(), Request{
		Instructions: ComparePrompt(),
		Text:         "compare",
		Images:       [][]byte{testJPEG(t)},
		Validate:     validJSON,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != `{"similarity_score":0.7}` {
		t.Errorf("unexpected content %q", content)
	}
	if usage := p.GetUsage(); usage.InputTokens != 3 || usage.OutputTokens != 4 {
		t.Errorf("unexpected usage %+v", usage)
	}
}

func TestLlamaCppProvider_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p, _ := NewLlamaCppProvider(srv.URL, "")
	_, err := p.Complete(context.Background(), Request{Text: "x"})
	if !IsParseError(err) {
		t.Errorf("expected ParseError, got %v", err)
	}
}

// --- OpenAI tests ---

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4.1-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"gender\":\"male\"}"}}],
			"usage": {"prompt_tokens": 1000000, "completion_tokens": 1000000, "total_tokens": 2000000}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "", RequestPricing{Input: 0.4, Output: 1.6},
		option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))

	content, err := p.Complete(context.Background(), Request{Text: "x", Validate: validJSON})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != `{"gender":"male"}` {
		t.Errorf("unexpected content %q", content)
	}
	if cost := p.GetUsage().TotalCost; cost < 1.99 || cost > 2.01 {
		t.Errorf("expected cost 2.0, got %f", cost)
	}
}

func TestOpenAIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "", RequestPricing{},
		option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))

	_, err := p.Complete(context.Background(), Request{Text: "x"})
	if !backend.IsUnavailable(err) {
		t.Errorf("expected unavailable error, got %v", err)
	}
}
