package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamengine/internal/dedup"
	"streamengine/internal/eventbus"
	"streamengine/internal/filter"
	"streamengine/internal/model"
	"streamengine/internal/ring"
)

func newHarness(t *testing.T, handler http.HandlerFunc, endpoint model.Endpoint) (*Core, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dc := dedup.New()
	t.Cleanup(func() { dc.Close() })
	p := filter.New()
	bus := eventbus.New()
	r := ring.New()

	core := New(Config{BaseURL: srv.URL, Token: "test-token", Endpoint: endpoint}, dc, p, bus, r)
	return core, srv
}

func writeFrame(w http.ResponseWriter, f http.Flusher, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	f.Flush()
}

func postFrame(primaryID, username string) string {
	return fmt.Sprintf(`{"type":"post_created","timestamp":"2026-01-01T00:00:00Z","primaryId":"%s","user":{"username":"%s","userId":"u1"},"data":{"tweetId":"t1","username":"%s","action":"created"}}`, primaryID, username, username)
}

// happy path: connect, receive one well-formed frame, see it delivered.
func TestCore_HappyPath(t *testing.T) {
	var once sync.Once
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		once.Do(func() { writeFrame(w, f, postFrame("evt-1", "alice")) })
		<-r.Context().Done()
	}, model.EndpointAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer core.Stop()

	waitFor(t, func() bool { return core.GetStats().DeliveredEvents == 1 })
	stats := core.GetStats()
	if stats.TotalEvents != 1 || stats.DeliveredEvents != 1 || stats.DedupedEvents != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ConnectionStatus != model.StatusConnected {
		t.Fatalf("expected connected, got %s", stats.ConnectionStatus)
	}
}

// duplicate primaryId is counted as deduped, not delivered twice.
func TestCore_DuplicateDeduped(t *testing.T) {
	var once sync.Once
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		once.Do(func() {
			writeFrame(w, f, postFrame("dup-1", "bob"))
			writeFrame(w, f, postFrame("dup-1", "bob"))
		})
		<-r.Context().Done()
	}, model.EndpointAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer core.Stop()

	waitFor(t, func() bool { return core.GetStats().TotalEvents == 2 })
	stats := core.GetStats()
	if stats.DeliveredEvents != 1 || stats.DedupedEvents != 1 {
		t.Fatalf("expected exactly one delivered and one deduped, got %+v", stats)
	}
}

// a filter-rejected event still counts toward TotalEvents but never Delivered.
func TestCore_FilterRejected(t *testing.T) {
	var once sync.Once
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		once.Do(func() { writeFrame(w, f, postFrame("evt-2", "carol")) })
		<-r.Context().Done()
	}, model.EndpointAll)

	core.pipeline.SetUsers([]string{"someone-else"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer core.Stop()

	waitFor(t, func() bool { return core.GetStats().TotalEvents == 1 })
	time.Sleep(50 * time.Millisecond)
	stats := core.GetStats()
	if stats.DeliveredEvents != 0 {
		t.Fatalf("expected filtered event not delivered, got %+v", stats)
	}
}

// a malformed frame is skipped, not fatal, and the connection keeps running.
func TestCore_ParseErrorSkipped(t *testing.T) {
	var once sync.Once
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		once.Do(func() {
			writeFrame(w, f, `{"type":"not_a_real_type","primaryId":"x"}`)
			writeFrame(w, f, postFrame("evt-3", "dave"))
		})
		<-r.Context().Done()
	}, model.EndpointAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer core.Stop()

	waitFor(t, func() bool { return core.GetStats().DeliveredEvents == 1 })
	stats := core.GetStats()
	if stats.SkippedEvents != 1 {
		t.Fatalf("expected one skipped frame, got %+v", stats)
	}
}

// a 401 on first connect is a fatal auth error, returned from Start directly.
func TestCore_AuthErrorFatal(t *testing.T) {
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, model.EndpointAll)

	err := core.Start(context.Background())
	if err == nil || !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

// every candidate failing with a transient error surfaces a wrapped ErrConfig.
func TestCore_AllCandidatesUnreachable(t *testing.T) {
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, model.EndpointAll)

	err := core.Start(context.Background())
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

// after the peer closes the stream, runLoop reconnects and status cycles
// connected -> reconnecting -> connected without resetting counters.
func TestCore_ReconnectAfterDisconnect(t *testing.T) {
	var connCount int32
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		n := atomic.AddInt32(&connCount, 1)
		if n == 1 {
			writeFrame(w, f, postFrame("evt-reconnect", "erin"))
			return // closes the response, simulating a dropped connection
		}
		<-r.Context().Done()
	}, model.EndpointAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer core.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&connCount) >= 2 })
	waitFor(t, func() bool { return core.GetStats().ConnectionStatus == model.StatusConnected })

	stats := core.GetStats()
	if stats.DeliveredEvents != 1 {
		t.Fatalf("expected the pre-disconnect event to remain counted, got %+v", stats)
	}
}

// SetRuntimeSubscription validates channels/users and, on success, bumps
// generation and cancels the active connection so runLoop reconnects.
func TestCore_SetRuntimeSubscription(t *testing.T) {
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		<-r.Context().Done()
	}, model.EndpointAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer core.Stop()

	waitFor(t, func() bool { return core.GetStats().ConnectionStatus == model.StatusConnected })

	genBefore := core.getGeneration()
	state, err := core.SetRuntimeSubscription([]model.Endpoint{model.EndpointTweets, model.EndpointFollowing}, []string{"Alice", "alice", " Bob "})
	if err != nil {
		t.Fatalf("SetRuntimeSubscription: %v", err)
	}
	if len(state.Users) != 2 || state.Users[0] != "alice" || state.Users[1] != "bob" {
		t.Fatalf("expected normalized deduped users, got %v", state.Users)
	}
	if len(state.Channels) != 2 {
		t.Fatalf("expected two channels preserved, got %v", state.Channels)
	}
	if core.getGeneration() != genBefore+1 {
		t.Fatalf("expected generation bump")
	}

	got := core.GetRuntimeSubscription()
	if got.Source != model.SourceRuntime || got.Mode != model.ModeActive {
		t.Fatalf("unexpected state after mutation: %+v", got)
	}
}

func TestCore_SetRuntimeSubscription_InvalidChannel(t *testing.T) {
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		<-r.Context().Done()
	}, model.EndpointAll)

	_, err := core.SetRuntimeSubscription([]model.Endpoint{"bogus"}, nil)
	if err == nil || !strings.Contains(err.Error(), "Invalid channel") {
		t.Fatalf("expected invalid channel error, got %v", err)
	}
}

func TestCore_SetRuntimeSubscription_InvalidUser(t *testing.T) {
	core, _ := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		<-r.Context().Done()
	}, model.EndpointAll)

	_, err := core.SetRuntimeSubscription([]model.Endpoint{model.EndpointAll}, []string{"  "})
	if err == nil || !strings.Contains(err.Error(), "Invalid user") {
		t.Fatalf("expected invalid user error, got %v", err)
	}
}

// backoff stays within [base*2^n, base*2^n + base], capped at backoffMax.
func TestBackoff_Bounds(t *testing.T) {
	for n := 0; n < 8; n++ {
		d := backoff(n)
		lo := backoffBase << n
		if lo > backoffMax {
			lo = backoffMax
		}
		if d < lo || d > lo+backoffBase {
			t.Fatalf("backoff(%d) = %v out of bounds", n, d)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
