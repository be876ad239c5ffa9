package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func completionResponse(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, content)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL: srv.URL,
		Model:   "test-model",
		APIKey:  "test-key",
	})
}

func TestCompleteSuccess(t *testing.T) {
	var gotReq chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		fmt.Fprint(w, completionResponse("  hello there  "))
	})

	got, err := client.Complete(context.Background(), "say hello", CallOptions{MaxTokens: 50, Temperature: 0.3})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hello there" {
		t.Errorf("expected trimmed content, got %q", got)
	}
	if gotReq.Model != "test-model" || gotReq.MaxTokens != 50 {
		t.Errorf("request fields wrong: %+v", gotReq)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("expected single user message, got %+v", gotReq.Messages)
	}
	if gotReq.ResponseFormat != nil {
		t.Error("response_format should be absent without JSONObject")
	}
}

func TestCompleteJSONObjectFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format, got %+v", req.ResponseFormat)
		}
		fmt.Fprint(w, completionResponse("```json\n{\"a\":1}\n```"))
	})

	got, err := client.Complete(context.Background(), "json please", CallOptions{JSONObject: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"a":1}` {
		t.Errorf("code fence not stripped: %q", got)
	}
}

func TestCompleteMissingCredential(t *testing.T) {
	client := NewClient(Config{Model: "m"})

	_, err := client.Complete(context.Background(), "prompt", CallOptions{})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("missing credential must not be retryable")
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), "prompt", CallOptions{})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusTooManyRequests {
		t.Errorf("wrong status: %d", upstream.Status)
	}
	if !IsRetryable(err) {
		t.Error("429 should be retryable")
	}
}

func TestCompleteMalformedResponse(t *testing.T) {
	cases := map[string]string{
		"no choices":    `{"choices":[]}`,
		"empty content": completionResponse(""),
		"api error":     `{"choices":[],"error":{"message":"bad model"}}`,
		"not json":      `<html>oops</html>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			})
			_, err := client.Complete(context.Background(), "prompt", CallOptions{})
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
			if IsRetryable(err) {
				t.Error("malformed response must not be retryable")
			}
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, completionResponse("too late"))
	})

	_, err := client.Complete(context.Background(), "prompt", CallOptions{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("timeout should be retryable")
	}
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"missing credential", ErrMissingCredential, false},
		{"malformed", ErrMalformedResponse, false},
		{"wrapped malformed", fmt.Errorf("decoding: %w", ErrMalformedResponse), false},
		{"upstream 500", &UpstreamError{Status: 500}, true},
		{"upstream 503", &UpstreamError{Status: 503}, true},
		{"upstream 429", &UpstreamError{Status: 429}, true},
		{"upstream 400", &UpstreamError{Status: 400}, false},
		{"upstream 401", &UpstreamError{Status: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), true},
		{"dns", errors.New("dial tcp: lookup bad.invalid: no such host"), true},
		{"other", errors.New("something else"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
