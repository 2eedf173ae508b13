package activeusers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFilter struct {
	got atomic.Value
}

func (f *fakeFilter) SetUsers(users []string) { f.got.Store(append([]string(nil), users...)) }

func TestParseResponse_Shapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"bare array", `["alice","bob"]`, []string{"alice", "bob"}},
		{"users wrapper", `{"users":["carol"]}`, []string{"carol"}},
		{"usernames wrapper", `{"usernames":["dave"],"status":"ok","total_users":1}`, []string{"dave"}},
		{"object array", `[{"username":"erin"},{"username":"frank"}]`, []string{"erin", "frank"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseResponse([]byte(tc.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseResponse_UnrecognisedShape(t *testing.T) {
	_, err := parseResponse([]byte(`{"totally":"unexpected"}`))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFetch_SuccessUpdatesCacheAndFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Write([]byte(`["alice","bob"]`))
	}))
	defer srv.Close()

	ff := &fakeFilter{}
	f := New(srv.URL, "tok", ff)
	got := f.Fetch(context.Background())
	if !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("unexpected result: %v", got)
	}
	if !reflect.DeepEqual(f.GetCached(), []string{"alice", "bob"}) {
		t.Fatalf("cache not updated: %v", f.GetCached())
	}
	if stored, _ := ff.got.Load().([]string); !reflect.DeepEqual(stored, []string{"alice", "bob"}) {
		t.Fatalf("filter not updated: %v", stored)
	}
}

func TestFetch_FailureFallsBackToStaleCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`["alice"]`))
	}))
	defer srv.Close()

	f := New(srv.URL, "tok", nil)
	first := f.Fetch(context.Background())
	if !reflect.DeepEqual(first, []string{"alice"}) {
		t.Fatalf("unexpected first fetch: %v", first)
	}

	fail.Store(true)
	second := f.Fetch(context.Background())
	if !reflect.DeepEqual(second, []string{"alice"}) {
		t.Fatalf("expected stale cache on failure, got %v", second)
	}
}

func TestFetch_NeverSucceededReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(srv.URL, "tok", nil)
	got := f.Fetch(context.Background())
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}

func TestPeriodicRefresh_RunsImmediatelyAndRepeats(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`["alice"]`))
	}))
	defer srv.Close()

	f := New(srv.URL, "tok", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.StartPeriodicRefresh(ctx, 30*time.Millisecond)
	defer f.StopPeriodicRefresh()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 calls, got %d", calls.Load())
	}
}

func TestStopPeriodicRefresh_Idempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := New(srv.URL, "tok", nil)
	f.StartPeriodicRefresh(context.Background(), 10*time.Millisecond)
	f.StopPeriodicRefresh()
	f.StopPeriodicRefresh()
}
