package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client := NewClient("test-service", 10*time.Second)

	if client.serviceName != "test-service" {
		t.Errorf("NewClient() serviceName = %v, want test-service", client.serviceName)
	}
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("NewClient() timeout = %v, want %v", client.httpClient.Timeout, 10*time.Second)
	}
	if client.retryConfig.MaxRetries != 1 {
		t.Errorf("NewClient() MaxRetries = %d, want 1", client.retryConfig.MaxRetries)
	}
}

func TestPostJSON_RetriesWithBody(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"q":"hello"}` {
			t.Errorf("attempt %d body = %q", n, body)
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "ok"})
	}))
	defer server.Close()

	client := NewClient("test", 5*time.Second, WithRetry(RetryConfig{
		MaxRetries:        1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		RetryableStatuses: []int{http.StatusServiceUnavailable},
	}))

	var out map[string]string
	err := client.PostJSON(context.Background(), server.URL, nil, map[string]string{"q": "hello"}, &out)
	if err != nil {
		t.Fatalf("PostJSON() error: %v", err)
	}
	if out["answer"] != "ok" {
		t.Errorf("answer = %q, want ok", out["answer"])
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPostJSON_NonRetryableError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer server.Close()

	client := NewClient("test", 5*time.Second)
	err := client.PostJSON(context.Background(), server.URL, nil, map[string]string{}, nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Errorf("StatusCode() = %d, want 400", StatusCode(err))
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestAuthApplied(t *testing.T) {
	tests := []struct {
		name   string
		auth   AuthProvider
		header string
		want   string
	}{
		{"bearer", &BearerTokenAuth{Token: "sk-test"}, "Authorization", "Bearer sk-test"},
		{"api key", &APIKeyAuth{Header: "x-api-key", Key: "ak-test"}, "x-api-key", "ak-test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tt.header)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer server.Close()

			client := NewClient("test", time.Second, WithAuth(tt.auth))
			if err := client.PostJSON(context.Background(), server.URL, nil, map[string]string{}, nil); err != nil {
				t.Fatalf("PostJSON() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}
	if err.Error() != "HTTP 502: 502 Bad Gateway" {
		t.Errorf("Error() = %q", err.Error())
	}
	err.Body = []byte("upstream down")
	if err.Error() != "HTTP 502: upstream down" {
		t.Errorf("Error() = %q", err.Error())
	}
}
