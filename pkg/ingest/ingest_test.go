package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"proxy-pool/pkg/models"
	"proxy-pool/pkg/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu        sync.Mutex
	available int
	countErr  error
	inserted  map[string]bool
}

func newFakeStore(available int) *fakeStore {
	return &fakeStore{available: available, inserted: make(map[string]bool)}
}

func (s *fakeStore) CountAvailable(ctx context.Context, filter models.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.available, nil
}

func (s *fakeStore) CountChecking(ctx context.Context) (int, error) { return 0, nil }

func (s *fakeStore) CountDue(ctx context.Context, checkInterval time.Duration, failLimit int) (int, error) {
	return 0, nil
}

func (s *fakeStore) CountTotal(ctx context.Context) (int, error) { return 0, nil }

func (s *fakeStore) InsertProxyIfAbsent(ctx context.Context, proxy *models.Proxy) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := proxy.Endpoint()
	if s.inserted[key] {
		return false, nil
	}
	s.inserted[key] = true
	return true, nil
}

func (s *fakeStore) insertedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type fakeSource struct {
	name    string
	proxies []models.Proxy
	err     error
	calls   int
}

func (f *fakeSource) Name() string             { return f.name }
func (f *fakeSource) LastFetchTime() time.Time { return time.Time{} }

func (f *fakeSource) FetchProxy(ctx context.Context) ([]models.Proxy, error) {
	f.calls++
	return f.proxies, f.err
}

func candidate(host string, port int) models.Proxy {
	return models.Proxy{Type: models.HTTPProxy, Host: host, Port: port, Source: "test"}
}

func newLoop(store Store, sources []source.Source, trigger int) *Loop {
	return New(store, sources, Options{
		Interval:      time.Hour,
		TriggerCount:  trigger,
		FailLimit:     3,
		CheckInterval: 5 * time.Second,
	}, testLogger())
}

func TestCycleFetchesBelowTrigger(t *testing.T) {
	store := newFakeStore(10)
	src := &fakeSource{name: "list", proxies: []models.Proxy{
		candidate("1.2.3.4", 8080),
		candidate("5.6.7.8", 3128),
	}}

	l := newLoop(store, []source.Source{src}, 100)
	l.cycle(context.Background())

	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
	if got := store.insertedCount(); got != 2 {
		t.Errorf("inserted %d proxies, want 2", got)
	}
}

func TestCycleSkipsFetchAboveTrigger(t *testing.T) {
	store := newFakeStore(120)
	src := &fakeSource{name: "list", proxies: []models.Proxy{candidate("1.2.3.4", 8080)}}

	l := newLoop(store, []source.Source{src}, 100)
	l.cycle(context.Background())

	if src.calls != 0 {
		t.Errorf("source called %d times, want 0 when available >= trigger", src.calls)
	}
}

func TestCycleDeduplicatesAcrossSources(t *testing.T) {
	store := newFakeStore(0)
	srcA := &fakeSource{name: "a", proxies: []models.Proxy{
		candidate("1.2.3.4", 8080),
		candidate("1.2.3.4", 8080),
	}}
	srcB := &fakeSource{name: "b", proxies: []models.Proxy{
		candidate("1.2.3.4", 8080),
		candidate("9.9.9.9", 80),
	}}

	l := newLoop(store, []source.Source{srcA, srcB}, 100)
	l.cycle(context.Background())

	if got := store.insertedCount(); got != 2 {
		t.Errorf("inserted %d proxies, want 2 after dedup", got)
	}
}

func TestCycleContainsSourceFailure(t *testing.T) {
	store := newFakeStore(0)
	broken := &fakeSource{name: "broken", err: errors.New("connection reset")}
	working := &fakeSource{name: "working", proxies: []models.Proxy{candidate("1.2.3.4", 8080)}}

	l := newLoop(store, []source.Source{broken, working}, 100)
	l.cycle(context.Background())

	if working.calls != 1 {
		t.Error("a failing source must not abort the cycle for other sources")
	}
	if got := store.insertedCount(); got != 1 {
		t.Errorf("inserted %d proxies, want 1", got)
	}
}

func TestCycleSkipsOnStoreError(t *testing.T) {
	store := newFakeStore(0)
	store.countErr = errors.New("backend unavailable")
	src := &fakeSource{name: "list", proxies: []models.Proxy{candidate("1.2.3.4", 8080)}}

	l := newLoop(store, []source.Source{src}, 100)
	l.cycle(context.Background())

	if src.calls != 0 {
		t.Error("an unavailable store must not trigger a fetch")
	}
}
