package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
)

// mockHealthHTTPClient routes requests to a per-path response function.
type mockHealthHTTPClient struct {
	requests []string
	DoFunc   func(req *http.Request) (*http.Response, error)
}

func (m *mockHealthHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req.URL.Path)
	return m.DoFunc(req)
}

func healthResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func newTestVerifier(client HealthHTTPClient) *HealthVerifier {
	return NewHealthVerifierWithClient(
		"https://staging.example.com",
		client,
		NewRetryEngineWithSleep(noSleep),
		newTestLogger(),
	)
}

func TestHealthVerifier_AllHealthy(t *testing.T) {
	client := &mockHealthHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return healthResponse(200, `{"status":"healthy"}`), nil
		},
	}
	verifier := newTestVerifier(client)

	if err := verifier.VerifyAll(context.Background()); err != nil {
		t.Fatalf("VerifyAll() unexpected error: %v", err)
	}

	want := []string{"/health", "/health/db", "/health/github"}
	if len(client.requests) != len(want) {
		t.Fatalf("requests = %v, want one per endpoint", client.requests)
	}
	for i, path := range client.requests {
		if path != want[i] {
			t.Errorf("request[%d] = %q, want %q", i, path, want[i])
		}
	}
}

func TestHealthVerifier_FailFastOrdering(t *testing.T) {
	// The database endpoint never recovers; the GitHub endpoint must
	// never be polled.
	client := &mockHealthHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == "/health/db" {
				return healthResponse(503, `{"status":"unhealthy","error":"connection refused"}`), nil
			}
			return healthResponse(200, `{"status":"healthy"}`), nil
		},
	}
	verifier := newTestVerifier(client)

	err := verifier.VerifyAll(context.Background())
	var healthErr *HealthCheckError
	if !errors.As(err, &healthErr) {
		t.Fatalf("VerifyAll() error type = %T, want *HealthCheckError", err)
	}
	if healthErr.Endpoint != "/health/db" {
		t.Errorf("HealthCheckError.Endpoint = %q, want /health/db", healthErr.Endpoint)
	}
	if healthErr.Attempts != 5 {
		t.Errorf("HealthCheckError.Attempts = %d, want full budget of 5", healthErr.Attempts)
	}

	for _, path := range client.requests {
		if path == "/health/github" {
			t.Error("polled /health/github after /health/db exhausted its budget")
		}
	}
	// /health once, /health/db five times.
	if len(client.requests) != 6 {
		t.Errorf("made %d requests, want 6", len(client.requests))
	}
}

func TestHealthVerifier_RecoversWithinBudget(t *testing.T) {
	attempts := 0
	client := &mockHealthHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == "/health/db" {
				attempts++
				if attempts < 3 {
					return healthResponse(503, `{"status":"unhealthy","error":"warming up"}`), nil
				}
			}
			return healthResponse(200, `{"status":"healthy"}`), nil
		},
	}
	verifier := newTestVerifier(client)

	if err := verifier.VerifyAll(context.Background()); err != nil {
		t.Fatalf("VerifyAll() unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("database endpoint polled %d times, want 3", attempts)
	}
}

func TestHealthVerifier_Poll(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		netErr  error
		wantErr bool
	}{
		{
			name:   "healthy",
			status: 200,
			body:   `{"status":"healthy"}`,
		},
		{
			name:    "healthy status code but unhealthy body",
			status:  200,
			body:    `{"status":"unhealthy"}`,
			wantErr: true,
		},
		{
			name:    "service unavailable",
			status:  503,
			body:    `{"status":"unhealthy","error":"db down"}`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			status:  200,
			body:    "<html>It works!</html>",
			wantErr: true,
		},
		{
			name:    "connection failure",
			netErr:  errors.New("dial tcp: connection refused"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockHealthHTTPClient{
				DoFunc: func(req *http.Request) (*http.Response, error) {
					if tt.netErr != nil {
						return nil, tt.netErr
					}
					return healthResponse(tt.status, tt.body), nil
				},
			}
			verifier := newTestVerifier(client)

			err := verifier.poll(context.Background(), "/health")
			if (err != nil) != tt.wantErr {
				t.Errorf("poll() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
