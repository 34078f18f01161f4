package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(server *httptest.Server) *StoreClient {
	c := NewStoreClient(server.URL, "test-secret")
	c.httpClient = server.Client()
	return c
}

func TestEndpointCache_Hit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: "ep-123", IsEphemeral: true})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := NewEndpointCache(ctx, newTestClient(server), time.Hour)

	info1, err := cache.Get(context.Background(), "test-slug")
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if info1.EndpointID != "ep-123" {
		t.Errorf("expected ep-123, got %s", info1.EndpointID)
	}

	info2, err := cache.Get(context.Background(), "test-slug")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if info2.EndpointID != "ep-123" {
		t.Errorf("expected ep-123 from cache, got %s", info2.EndpointID)
	}
}

func TestEndpointCache_TTLExpiry(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := callCount.Add(1)
		_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: fmt.Sprintf("ep-%d", n)})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := NewEndpointCache(ctx, newTestClient(server), 50*time.Millisecond)

	info1, err := cache.Get(context.Background(), "ttl-test")
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if info1.EndpointID != "ep-1" {
		t.Errorf("expected ep-1, got %s", info1.EndpointID)
	}

	time.Sleep(100 * time.Millisecond)

	info2, err := cache.Get(context.Background(), "ttl-test")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if info2.EndpointID != "ep-2" {
		t.Errorf("expected ep-2 after TTL expiry, got %s", info2.EndpointID)
	}
}

func TestEndpointCache_ErrorDoesNotCache(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := callCount.Add(1)
		if n == 1 {
			_ = json.NewEncoder(w).Encode(EndpointInfo{Error: "not_found"})
			return
		}
		_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: "ep-found"})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := NewEndpointCache(ctx, newTestClient(server), time.Hour)

	info1, err := cache.Get(context.Background(), "slow-create")
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if info1.Error != "not_found" {
		t.Fatalf("expected not_found, got %+v", info1)
	}

	info2, err := cache.Get(context.Background(), "slow-create")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if info2.EndpointID != "ep-found" {
		t.Errorf("not_found response should not have been cached, got %+v", info2)
	}
}

func TestEndpointCache_SingleFlight(t *testing.T) {
	var callCount atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(EndpointInfo{EndpointID: "ep-shared"})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := NewEndpointCache(ctx, newTestClient(server), time.Hour)

	const n = 50
	var wg sync.WaitGroup
	results := make([]*EndpointInfo, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := cache.Get(context.Background(), "cold-slug")
			if err != nil {
				t.Errorf("Get %d: %v", i, err)
				return
			}
			results[i] = info
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := callCount.Load(); got != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", got)
	}
	for i, r := range results {
		if r == nil || r.EndpointID != "ep-shared" {
			t.Errorf("result %d mismatch: %+v", i, r)
		}
	}
}
