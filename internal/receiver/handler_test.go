package receiver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, endpointHandler http.HandlerFunc) (*Server, *httptest.Server) {
	t.Helper()
	storeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/endpoint-info":
			endpointHandler(w, r)
		case "/quota":
			_ = json.NewEncoder(w).Encode(QuotaResponse{Remaining: -1, Limit: -1})
		case "/capture-batch":
			_ = json.NewEncoder(w).Encode(CaptureResponse{Success: true, Inserted: 1})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(storeServer.Close)

	client := newTestClient(storeServer)
	server := NewServer(context.Background(), client)
	return server, storeServer
}

func TestHandleWebhook_InvalidSlug(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	req := httptest.NewRequest("GET", "/w/bad!slug/x", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for invalid slug, got %d", resp.StatusCode)
	}
}

func TestHandleWebhook_UnknownSlug(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{Error: "not_found"})
	})

	req := httptest.NewRequest("GET", "/w/nope/", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleWebhook_ExpiredEndpoint(t *testing.T) {
	past := time.Now().Add(-time.Hour).UnixMilli()
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: "ep-1", ExpiresAt: &past})
	})

	req := httptest.NewRequest("GET", "/w/expired/", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusGone {
		t.Errorf("expected 410, got %d", resp.StatusCode)
	}
}

func TestHandleWebhook_MockResponseFiltersUnsafeHeaders(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{
			EndpointID: "ep-1",
			MockResponse: &MockResponse{
				Status:  201,
				Body:    `{"ok":true}`,
				Headers: map[string]string{"X-Mock": "1", "Set-Cookie": "a=b"},
			},
		})
	})

	req := httptest.NewRequest("POST", "/w/abc/x?y=1", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 201 {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Mock") != "1" {
		t.Error("expected X-Mock header to be forwarded")
	}
	if resp.Header.Get("Set-Cookie") != "" {
		t.Error("Set-Cookie must be dropped")
	}
}

func TestHandleWebhook_InvalidMockStatusDefaultsTo200(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{
			EndpointID:   "ep-1",
			MockResponse: &MockResponse{Status: 999, Body: "oops"},
		})
	})

	req := httptest.NewRequest("GET", "/w/abc/", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 fallback, got %d", resp.StatusCode)
	}
}

func TestHandleWebhook_NoMockResponse(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: "ep-1"})
	})

	req := httptest.NewRequest("GET", "/w/abc/", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleWebhook_BlockedHeaders(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{
			EndpointID: "ep-1",
			MockResponse: &MockResponse{
				Status: 200,
				Body:   "OK",
				Headers: map[string]string{
					"X-Custom":                  "allowed",
					"Set-Cookie":                "sessionid=abc",
					"Strict-Transport-Security": "max-age=31536000",
					"Content-Security-Policy":   "default-src 'self'",
					"X-Frame-Options":           "DENY",
				},
			},
		})
	})

	req := httptest.NewRequest("GET", "/w/header-test/", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("X-Custom") != "allowed" {
		t.Errorf("expected X-Custom=allowed, got %q", resp.Header.Get("X-Custom"))
	}
	for _, h := range []string{"Set-Cookie", "Strict-Transport-Security", "Content-Security-Policy", "X-Frame-Options"} {
		if v := resp.Header.Get(h); v != "" {
			t.Errorf("blocked header %s should not be present, got %q", h, v)
		}
	}
}

func TestHandleWebhook_CRLFInjection(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{
			EndpointID: "ep-2",
			MockResponse: &MockResponse{
				Status: 200,
				Body:   "OK",
				Headers: map[string]string{
					"X-Clean":    "good",
					"X-Injected": "bad\r\nInjected-Header: evil",
				},
			},
		})
	})

	req := httptest.NewRequest("GET", "/w/crlf-test/", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("X-Clean") != "good" {
		t.Error("X-Clean should be present")
	}
	if v := resp.Header.Get("X-Injected"); v != "" {
		t.Errorf("CRLF-injected header should be stripped, got %q", v)
	}
	if v := resp.Header.Get("Injected-Header"); v != "" {
		t.Errorf("CRLF-smuggled header should not be present, got %q", v)
	}
}

func TestHandleWebhook_OversizedHeaders(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{
			EndpointID: "ep-3",
			MockResponse: &MockResponse{
				Status: 200,
				Body:   "OK",
				Headers: map[string]string{
					"X-Normal":   "ok",
					"X-Long-Key": strings.Repeat("x", MaxHeaderValueLen+1),
				},
			},
		})
	})

	req := httptest.NewRequest("GET", "/w/oversize-test/", nil)
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("X-Normal") != "ok" {
		t.Error("normal header should be present")
	}
	if v := resp.Header.Get("X-Long-Key"); v != "" {
		t.Errorf("header with oversized value should be stripped, got %d chars", len(v))
	}
}

func TestHandleWebhook_BodySizeLimit(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: "ep-4"})
	})

	bigBody := strings.NewReader(strings.Repeat("x", MaxBodySize+1))
	req := httptest.NewRequest("POST", "/w/bigbody-test/", bigBody)
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := server.App.Test(req)
	if err != nil {
		if strings.Contains(err.Error(), "body size") || strings.Contains(err.Error(), "limit") {
			return
		}
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized body, got %d", resp.StatusCode)
	}
}

func TestHandleWebhook_RealIPHeadersDoNotBreakRequest(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: "ep-1"})
	})

	req := httptest.NewRequest("GET", "/w/abc/", nil)
	req.Header.Set("X-Real-Ip", "203.0.113.9")
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	resp, err := server.App.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"X-Real-Ip takes precedence", map[string]string{"X-Real-Ip": "1.2.3.4", "X-Forwarded-For": "5.6.7.8"}, "1.2.3.4"},
		{"X-Forwarded-For first IP", map[string]string{"X-Forwarded-For": "5.6.7.8, 9.10.11.12"}, "5.6.7.8"},
		{"X-Forwarded-For single", map[string]string{"X-Forwarded-For": "13.14.15.16"}, "13.14.15.16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIP string
			storeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/endpoint-info":
					_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: "ep-1"})
				case "/quota":
					_ = json.NewEncoder(w).Encode(QuotaResponse{Remaining: -1, Limit: -1})
				case "/capture-batch":
					var payload struct {
						Requests []BufferedRequest `json:"requests"`
					}
					_ = json.NewDecoder(r.Body).Decode(&payload)
					if len(payload.Requests) > 0 {
						gotIP = payload.Requests[0].IP
					}
					_ = json.NewEncoder(w).Encode(CaptureResponse{Success: true, Inserted: len(payload.Requests)})
				}
			}))
			defer storeServer.Close()

			client := newTestClient(storeServer)
			server := NewServer(context.Background(), client)

			req := httptest.NewRequest("GET", "/w/ip-test/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := server.App.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			_ = resp.Body.Close()

			server.Batcher.FlushAll()
			server.Batcher.Wait()

			if gotIP != tt.expected {
				t.Errorf("realIP: got %q, want %q", gotIP, tt.expected)
			}
		})
	}
}

func TestIsValidSlug(t *testing.T) {
	tests := []struct {
		slug  string
		valid bool
	}{
		{"abc", true},
		{"ABC", true},
		{"123", true},
		{"my-slug", true},
		{"my_slug", true},
		{"", false},
		{"a", true},
		{"1234567890123456789012345678901234567890123456789", true},  // 49 chars
		{"12345678901234567890123456789012345678901234567890", true}, // 50 chars
		{"123456789012345678901234567890123456789012345678901", false}, // 51 chars
		{"has space", false},
		{"héllo", false},
		{"slug!", false},
		{"slug\n", false},
		{"../etc", false},
		{"foo/bar", false},
	}
	for _, tt := range tests {
		if got := isValidSlug(tt.slug); got != tt.valid {
			t.Errorf("isValidSlug(%q) = %v, want %v", tt.slug, got, tt.valid)
		}
	}
}
