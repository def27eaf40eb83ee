package webclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/proctor/internal/testutil"
	"github.com/raysh454/proctor/internal/webclient"
)

func newClient(t *testing.T, ts *httptest.Server, token string) *webclient.NetHTTPClient {
	t.Helper()
	client, err := webclient.NewNetHTTPClient(webclient.Config{BaseURL: ts.URL + "/", AuthToken: token}, &testutil.DummyLogger{}, ts.Client())
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// ─── Construction ──────────────────────────────────────────────────────

func TestNewNetHTTPClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := webclient.NewNetHTTPClient(webclient.Config{}, &testutil.DummyLogger{}, nil)
	if err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestNewNetHTTPClient_DefaultTimeout(t *testing.T) {
	t.Parallel()

	client, err := webclient.NewNetHTTPClient(webclient.Config{BaseURL: "http://example.invalid"}, &testutil.DummyLogger{}, nil)
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	if client.HTTPClient().Timeout != webclient.DefaultConfig().Timeout {
		t.Errorf("expected default timeout, got %v", client.HTTPClient().Timeout)
	}
}

// ─── Post / Get ────────────────────────────────────────────────────────

func TestNetHTTPClient_Post_SendsJSON(t *testing.T) {
	t.Parallel()
	var (
		gotPath, gotType, gotAuth string
		gotBody                   map[string]any
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"strikeCount":1}`)
	}))
	defer ts.Close()

	client := newClient(t, ts, "tok")
	resp, err := client.Post(context.Background(), "/api/violations", map[string]string{"type": "TAB_SWITCH"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	if !resp.OK() || string(resp.Body) != `{"strikeCount":1}` {
		t.Errorf("unexpected response: %d %s", resp.StatusCode, resp.Body)
	}
	if gotPath != "/api/violations" {
		t.Errorf("expected /api/violations, got %q", gotPath)
	}
	if gotType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotType)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotBody["type"] != "TAB_SWITCH" {
		t.Errorf("unexpected body: %v", gotBody)
	}
}

func TestNetHTTPClient_StatusErrorsAreNotTransportErrors(t *testing.T) {
	t.Parallel()
	codes := []int{400, 404, 409, 500, 503}

	for _, code := range codes {
		code := code
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
			}))
			defer ts.Close()

			resp, err := newClient(t, ts, "").Get(context.Background(), "/api/sessions/x/status")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if resp.StatusCode != code {
				t.Errorf("expected %d, got %d", code, resp.StatusCode)
			}
			if resp.ClientError() != (code < 500) {
				t.Errorf("ClientError mismatch for %d", code)
			}
		})
	}
}

func TestNetHTTPClient_Do_NilRequest_ReturnsError(t *testing.T) {
	t.Parallel()
	client, _ := webclient.NewNetHTTPClient(webclient.Config{BaseURL: "http://127.0.0.1:1"}, &testutil.DummyLogger{}, nil)
	defer client.Close()

	_, err := client.Do(context.Background(), nil)
	if err != webclient.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestNetHTTPClient_ConnectionRefused_ReturnsError(t *testing.T) {
	t.Parallel()
	client, _ := webclient.NewNetHTTPClient(webclient.Config{BaseURL: "http://127.0.0.1:1"}, &testutil.DummyLogger{}, &http.Client{Timeout: time.Second})
	defer client.Close()

	_, err := client.Post(context.Background(), "/api/violations", map[string]string{})
	if err == nil {
		t.Fatal("expected error for connection refused")
	}
}

func TestNetHTTPClient_ContextCanceled_ReturnsError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(200)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClient(t, ts, "").Get(ctx, "/")
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestNetHTTPClient_LargeBodyIsBounded(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("X", 2<<20))
	}))
	defer ts.Close()

	resp, err := newClient(t, ts, "").Get(context.Background(), "/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(resp.Body) != 1<<20 {
		t.Errorf("expected body capped at 1MiB, got %d bytes", len(resp.Body))
	}
}
