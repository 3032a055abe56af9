package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func TestClientGetSendsBearerToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /status": `{"raw_files": 3, "processed_files": 1, "pending_files": 2}`,
	})

	var status struct {
		RawFiles int `json:"raw_files"`
	}
	if err := ts.client().get(ctx, "/status", &status); err != nil {
		t.Fatalf("get: %v", err)
	}

	if status.RawFiles != 3 {
		t.Errorf("RawFiles = %d, want 3", status.RawFiles)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", ts.requests[0].Auth)
	}
}

func TestClientOmitsAuthWhenNoToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	if err := client.get(ctx, "/health", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("Authorization = %q, want empty", ts.requests[0].Auth)
	}
}

func TestClientPostReconcile(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /reconcile": `{"files_seen": 5, "created": 2, "updated": 1, "removed": 0, "saved": true}`,
	})

	var resp reconcileResponse
	if err := ts.client().post(ctx, "/reconcile", nil, &resp); err != nil {
		t.Fatalf("post: %v", err)
	}

	if resp.FilesSeen != 5 || resp.Created != 2 || !resp.Saved {
		t.Errorf("unexpected response: %+v", resp)
	}
	if ts.requests[0].Method != "POST" {
		t.Errorf("method = %q, want POST", ts.requests[0].Method)
	}
}

func TestClientDecodesStructuredError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	err := ts.client().get(ctx, "/documents/ghost.txt", nil)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want structured message", err)
	}
}
