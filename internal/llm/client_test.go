package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeProvider satisfies Provider for routing tests.
type fakeProvider struct {
	name    string
	content string
	err     error
	calls   int
}

func (p *fakeProvider) Name() string     { return p.name }
func (p *fakeProvider) Models() []string { return []string{p.name + "-model"} }
func (p *fakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Provider: p.name, Model: req.Model, Content: p.content}, nil
}

func TestClientRouting(t *testing.T) {
	primary := &fakeProvider{name: "primary", content: "from primary"}
	secondary := &fakeProvider{name: "secondary", content: "from secondary"}

	t.Run("ProviderPrefixRoutesDirectly", func(t *testing.T) {
		c := New([]Provider{primary, secondary}, "secondary/some-model")
		out, err := c.Generate(context.Background(), "rewrite this")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if out != "from secondary" {
			t.Errorf("content = %q, want secondary's", out)
		}
	})

	t.Run("FallbackChain", func(t *testing.T) {
		failing := &fakeProvider{name: "failing", err: errors.New("down")}
		healthy := &fakeProvider{name: "healthy", content: "recovered"}
		c := New([]Provider{failing, healthy}, "")

		out, err := c.Generate(context.Background(), "rewrite this")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if out != "recovered" {
			t.Errorf("content = %q, want fallback result", out)
		}
		if failing.calls != 1 || healthy.calls != 1 {
			t.Errorf("calls = %d/%d, want 1/1", failing.calls, healthy.calls)
		}
	})

	t.Run("NoProviders", func(t *testing.T) {
		c := New(nil, "")
		_, err := c.Generate(context.Background(), "rewrite this")
		if !errors.Is(err, ErrNoProviders) {
			t.Errorf("err = %v, want ErrNoProviders", err)
		}
	})
}

func TestOpenAIProvider(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("path = %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("authorization = %q", got)
			}
			var req openAIRequest
			json.NewDecoder(r.Body).Decode(&req)
			if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
				t.Errorf("messages = %v", req.Messages)
			}

			json.NewEncoder(w).Encode(map[string]any{
				"model": req.Model,
				"choices": []map[string]any{{
					"message":       map[string]string{"role": "assistant", "content": "rewritten body"},
					"finish_reason": "stop",
				}},
				"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20},
			})
		}))
		defer srv.Close()

		p := NewOpenAIProvider(OpenAIConfig{
			Name:         "openai",
			BaseURL:      srv.URL,
			APIKey:       "test-key",
			DefaultModel: "gpt-test",
		})

		resp, err := p.Complete(context.Background(), Request{
			Messages: []Message{{Role: "user", Content: "prompt"}},
		})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if resp.Content != "rewritten body" {
			t.Errorf("content = %q", resp.Content)
		}
		if resp.TokensIn != 10 || resp.TokensOut != 20 {
			t.Errorf("tokens = %d/%d, want 10/20", resp.TokensIn, resp.TokensOut)
		}
	})

	t.Run("RateLimited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		p := NewOpenAIProvider(OpenAIConfig{Name: "openai", BaseURL: srv.URL, APIKey: "k", DefaultModel: "m"})
		_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("err = %v, want ErrRateLimited", err)
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		p := NewOpenAIProvider(OpenAIConfig{Name: "openai", BaseURL: "http://unused", DefaultModel: "m"})
		_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("err = %v, want ErrNoAPIKey", err)
		}
	})

	t.Run("EmptyChoices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"model": "m", "choices": []any{}})
		}))
		defer srv.Close()

		p := NewOpenAIProvider(OpenAIConfig{Name: "openai", BaseURL: srv.URL, APIKey: "k", DefaultModel: "m"})
		_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
		if !errors.Is(err, ErrEmptyContent) {
			t.Errorf("err = %v, want ErrEmptyContent", err)
		}
	})
}

func TestProviderError(t *testing.T) {
	base := errors.New("boom")
	err := &ProviderError{Provider: "anthropic", Model: "claude-x", Err: base}
	if err.Error() != "anthropic/claude-x: boom" {
		t.Errorf("message = %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("unwrap lost the cause")
	}

	short := &ProviderError{Provider: "openai", Err: base}
	if short.Error() != "openai: boom" {
		t.Errorf("message = %q", short.Error())
	}
}

func TestSplitModel(t *testing.T) {
	cases := []struct {
		in, provider, model string
	}{
		{"anthropic/claude-x", "anthropic", "claude-x"},
		{"plain-model", "", "plain-model"},
		{"a/b/c", "a", "b/c"},
	}
	for _, tc := range cases {
		provider, model := splitModel(tc.in)
		if provider != tc.provider || model != tc.model {
			t.Errorf("splitModel(%q) = (%q, %q), want (%q, %q)", tc.in, provider, model, tc.provider, tc.model)
		}
	}
}
