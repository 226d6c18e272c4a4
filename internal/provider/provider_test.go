package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fenced json", "Here you go:\n```json\n{\"hasMcp\": true}\n```\nDone.", `{"hasMcp": true}`},
		{"fenced plain", "```\n[1, 2]\n```", `[1, 2]`},
		{"bare object", `The filters are {"minRep": 80} as requested`, `{"minRep": 80}`},
		{"bare array", `[{"slug": "nlp"}]`, `[{"slug": "nlp"}]`},
		{"no json", "I cannot help with that.", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Fatalf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Fatal("missing api key header")
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "default-model" {
			t.Fatalf("model = %v (empty request model must pick default)", req["model"])
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hello"},{"type":"text","text":"world"}]}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(srv.URL, "test-key", "default-model")
	got, err := p.Complete(context.Background(), &CompletionRequest{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "hello\nworld" {
		t.Fatalf("got %q", got)
	}
}

func TestOpenAICompleteRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "key", "m")
	got, err := p.Complete(context.Background(), &CompletionRequest{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "ok" || attempts != 2 {
		t.Fatalf("got=%q attempts=%d", got, attempts)
	}
}

func TestNewUnknownKind(t *testing.T) {
	if _, err := New("mystery", "", "", ""); err == nil {
		t.Fatal("unknown kind must error")
	}
}
