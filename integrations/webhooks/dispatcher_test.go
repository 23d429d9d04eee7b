package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rados-io/saturn-presale/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string   { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func TestDispatcherSignsPayload(t *testing.T) {
	secret := []byte("secret")
	var (
		mu        sync.Mutex
		signature string
		body      []byte
		eventType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body = data
		signature = r.Header.Get(HeaderSignature)
		eventType = r.Header.Get(HeaderEvent)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, secret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(testEvent{evt: &types.Event{Type: "presale.purchased", Attributes: map[string]string{"id": "1"}}})
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if signature != Sign(secret, body) {
		t.Fatalf("signature does not match body")
	}
	if eventType != "presale.purchased" {
		t.Fatalf("unexpected event header %q", eventType)
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Attributes["id"] != "1" || payload.DeliveryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue("presale.redeemed", map[string]string{"id": "2"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithQueueSize(1), WithDrainTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	var full bool
	for i := 0; i < 5; i++ {
		if err := dispatcher.Enqueue("presale.purchased", nil); err == ErrQueueFull {
			full = true
			break
		}
	}
	if !full {
		t.Fatalf("expected queue to saturate")
	}
}

func TestDispatcherCloseDeliversQueued(t *testing.T) {
	var delivered int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithDrainTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := dispatcher.Enqueue("presale.purchased", nil); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	dispatcher.Close()
	if got := atomic.LoadInt32(&delivered); got != 5 {
		t.Fatalf("expected 5 deliveries before close returned, got %d", got)
	}
	if err := dispatcher.Enqueue("presale.purchased", nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	dispatcher.Close()
}

func TestDispatcherCloseHonoursDrainTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithDrainTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := dispatcher.Enqueue("presale.redeemed", nil); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	done := make(chan struct{})
	go func() {
		dispatcher.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not honour drain timeout")
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("secret")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://hooks.local", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
