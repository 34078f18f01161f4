package receiver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestBatcherAdd_BufferLimitDropsOldest(t *testing.T) {
	b := NewRequestBatcher(nil, 9999, time.Hour) // high maxSize so this never auto-flushes

	slug := "test-slug"
	for i := 0; i < BatchMaxPerSlug; i++ {
		b.Add(slug, BufferedRequest{Method: "GET", IP: fmt.Sprintf("ip-%d", i)})
	}

	b.mu.Lock()
	if len(b.buffers[slug]) != BatchMaxPerSlug {
		t.Fatalf("expected buffer at %d, got %d", BatchMaxPerSlug, len(b.buffers[slug]))
	}
	firstIP := b.buffers[slug][0].IP
	b.mu.Unlock()

	b.Add(slug, BufferedRequest{Method: "POST", IP: "ip-new"})

	b.mu.Lock()
	if len(b.buffers[slug]) != BatchMaxPerSlug {
		t.Fatalf("expected buffer still at %d, got %d", BatchMaxPerSlug, len(b.buffers[slug]))
	}
	newFirstIP := b.buffers[slug][0].IP
	b.mu.Unlock()

	if newFirstIP == firstIP {
		t.Error("oldest request should have been dropped")
	}
}

func TestBatcherAdd_FlushAtMaxSize(t *testing.T) {
	var mu sync.Mutex
	var received []BufferedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Slug     string            `json:"slug"`
			Requests []BufferedRequest `json:"requests"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("unmarshal batch payload: %v", err)
		}
		mu.Lock()
		received = append(received, payload.Requests...)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(CaptureResponse{Success: true, Inserted: len(payload.Requests)})
	}))
	defer server.Close()

	b := NewRequestBatcher(newTestClient(server), BatchMaxSize, time.Hour)

	slug := "flush-test"
	for i := 0; i < BatchMaxSize; i++ {
		b.Add(slug, BufferedRequest{Method: "POST", IP: fmt.Sprintf("ip-%d", i)})
	}
	b.Wait()

	b.mu.Lock()
	remaining := len(b.buffers[slug])
	b.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected empty buffer after flush, got %d", remaining)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != BatchMaxSize {
		t.Errorf("expected %d requests sent, got %d", BatchMaxSize, len(received))
	}
}

func TestBatcherAdd_MultipleSlugsIndependent(t *testing.T) {
	b := NewRequestBatcher(nil, 9999, time.Hour)

	b.Add("slug-a", BufferedRequest{Method: "GET"})
	b.Add("slug-a", BufferedRequest{Method: "GET"})
	b.Add("slug-b", BufferedRequest{Method: "POST"})

	b.mu.Lock()
	lenA := len(b.buffers["slug-a"])
	lenB := len(b.buffers["slug-b"])
	b.mu.Unlock()

	if lenA != 2 {
		t.Errorf("slug-a: expected 2, got %d", lenA)
	}
	if lenB != 1 {
		t.Errorf("slug-b: expected 1, got %d", lenB)
	}
}

func TestBatcherFlushAll_DispatchesEveryBuffer(t *testing.T) {
	var mu sync.Mutex
	dispatched := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Slug     string            `json:"slug"`
			Requests []BufferedRequest `json:"requests"`
		}
		_ = json.Unmarshal(body, &payload)
		mu.Lock()
		dispatched[payload.Slug] = len(payload.Requests)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(CaptureResponse{Success: true, Inserted: len(payload.Requests)})
	}))
	defer server.Close()

	b := NewRequestBatcher(newTestClient(server), 9999, time.Hour)
	b.Add("s1", BufferedRequest{Method: "GET"})
	b.Add("s2", BufferedRequest{Method: "GET"})
	b.Add("s2", BufferedRequest{Method: "GET"})
	b.Add("s3", BufferedRequest{Method: "GET"})

	b.FlushAll()
	b.Wait()

	mu.Lock()
	defer mu.Unlock()
	if dispatched["s1"] != 1 || dispatched["s2"] != 2 || dispatched["s3"] != 1 {
		t.Errorf("unexpected dispatch counts: %+v", dispatched)
	}
}
