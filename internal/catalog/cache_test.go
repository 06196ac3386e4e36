package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubStore struct {
	mu        sync.Mutex
	defs      map[string]*ToolDefinition
	fail      bool
	getCalls  int
	candCalls int
	loadCalls int
}

func (s *stubStore) GetByName(ctx context.Context, name string) (*ToolDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.fail {
		return nil, errors.New("store down")
	}
	return s.defs[name], nil
}

func (s *stubStore) GetCandidates(ctx context.Context, capability, platform string) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candCalls++
	if s.fail {
		return nil, errors.New("store down")
	}
	var cands []Candidate
	for _, def := range s.defs {
		if platform != "" && def.Platform != platform {
			continue
		}
		cands = append(cands, expand(def, capability)...)
	}
	sortCandidates(cands)
	return cands, nil
}

func (s *stubStore) LoadActive(ctx context.Context) ([]*ToolDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	if s.fail {
		return nil, errors.New("store down")
	}
	var defs []*ToolDefinition
	for _, def := range s.defs {
		defs = append(defs, def)
	}
	return defs, nil
}

func (s *stubStore) Insert(ctx context.Context, def *ToolDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.Name]; ok {
		return ErrVersionExists
	}
	s.defs[def.Name] = def
	return nil
}

func (s *stubStore) Retire(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[name]; !ok {
		return 0, nil
	}
	delete(s.defs, name)
	return 1, nil
}

func (s *stubStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func testTool(name string) *ToolDefinition {
	return &ToolDefinition{
		Name:     name,
		Version:  "1.0.0",
		Platform: "linux",
		Active:   true,
		Routing:  Routing{ExecutionLocation: "local"},
		Capabilities: map[string]CapabilityBlock{
			"service_restart": {
				Description: "restart a managed service",
				Patterns: map[string]Pattern{
					"restart_unit": {
						CostModel:    CostModel{TimeBaseMs: 800},
						Complexity:   2,
						Completeness: CompletenessExact,
						Policy:       Policy{MaxCost: 5, ProductionSafe: true},
						Match:        PreferenceMatch{Speed: 0.9, Accuracy: 1.0, Cost: 0.9, Complexity: 0.8, Completeness: 1.0},
					},
				},
			},
		},
	}
}

func newTestCatalog(store Store, ttl time.Duration) *CachedCatalog {
	return NewCachedCatalog(CachedCatalogConfig{
		Store:  store,
		TTL:    ttl,
		Logger: zap.NewNop(),
	})
}

func TestCachedCatalog_FreshHit_SkipsStore(t *testing.T) {
	store := &stubStore{defs: map[string]*ToolDefinition{"systemd_restart": testTool("systemd_restart")}}
	c := newTestCatalog(store, 30*time.Second)

	for i := 0; i < 3; i++ {
		def, stale, err := c.GetByName(context.Background(), "systemd_restart")
		if err != nil {
			t.Fatalf("GetByName: %v", err)
		}
		if stale {
			t.Fatal("expected fresh result")
		}
		if def.Name != "systemd_restart" {
			t.Fatalf("expected systemd_restart, got %s", def.Name)
		}
	}
	if store.getCalls != 1 {
		t.Fatalf("expected 1 store call, got %d", store.getCalls)
	}
}

func TestCachedCatalog_StaleServedOnStoreFailure(t *testing.T) {
	store := &stubStore{defs: map[string]*ToolDefinition{"systemd_restart": testTool("systemd_restart")}}
	c := newTestCatalog(store, 1*time.Millisecond)

	if _, _, err := c.GetByName(context.Background(), "systemd_restart"); err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	store.setFail(true)

	def, stale, err := c.GetByName(context.Background(), "systemd_restart")
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if !stale {
		t.Fatal("expected stale flag on store failure")
	}
	if def == nil || def.Name != "systemd_restart" {
		t.Fatalf("expected cached systemd_restart, got %+v", def)
	}
}

func TestCachedCatalog_UnavailableWithoutCachedValue(t *testing.T) {
	store := &stubStore{defs: map[string]*ToolDefinition{}}
	store.fail = true
	c := newTestCatalog(store, 30*time.Second)

	_, _, err := c.GetByName(context.Background(), "unknown")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	_, _, err = c.GetCandidates(context.Background(), "service_restart", "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCachedCatalog_NegativeCache(t *testing.T) {
	store := &stubStore{defs: map[string]*ToolDefinition{}}
	c := newTestCatalog(store, 30*time.Second)

	for i := 0; i < 3; i++ {
		def, _, err := c.GetByName(context.Background(), "nonexistent")
		if err != nil {
			t.Fatalf("GetByName: %v", err)
		}
		if def != nil {
			t.Fatalf("expected nil for unknown tool, got %+v", def)
		}
	}
	if store.getCalls != 1 {
		t.Fatalf("expected 1 store call with negative caching, got %d", store.getCalls)
	}
}

func TestCachedCatalog_CandidatesCached(t *testing.T) {
	store := &stubStore{defs: map[string]*ToolDefinition{"systemd_restart": testTool("systemd_restart")}}
	c := newTestCatalog(store, 30*time.Second)

	for i := 0; i < 2; i++ {
		cands, stale, err := c.GetCandidates(context.Background(), "service_restart", "linux")
		if err != nil {
			t.Fatalf("GetCandidates: %v", err)
		}
		if stale {
			t.Fatal("expected fresh candidates")
		}
		if len(cands) != 1 {
			t.Fatalf("expected 1 candidate, got %d", len(cands))
		}
		if cands[0].Key() != "systemd_restart/restart_unit" {
			t.Fatalf("unexpected candidate key %s", cands[0].Key())
		}
	}
	if store.candCalls != 1 {
		t.Fatalf("expected 1 store call, got %d", store.candCalls)
	}
}

func TestCachedCatalog_ReloadServesWithoutStoreReads(t *testing.T) {
	store := &stubStore{defs: map[string]*ToolDefinition{
		"systemd_restart": testTool("systemd_restart"),
		"full_redeploy":   testTool("full_redeploy"),
	}}
	c := newTestCatalog(store, 30*time.Second)

	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	cands, _, err := c.GetCandidates(context.Background(), "service_restart", "linux")
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates after reload, got %d", len(cands))
	}
	if cands[0].Tool.Name != "full_redeploy" || cands[1].Tool.Name != "systemd_restart" {
		t.Fatalf("candidates not in deterministic order: %s, %s", cands[0].Tool.Name, cands[1].Tool.Name)
	}
	if store.candCalls != 0 {
		t.Fatalf("expected reload to pre-fill candidates, store saw %d calls", store.candCalls)
	}

	def, _, err := c.GetByName(context.Background(), "full_redeploy")
	if err != nil || def == nil {
		t.Fatalf("GetByName after reload: def=%v err=%v", def, err)
	}
	if store.getCalls != 0 {
		t.Fatalf("expected reload to pre-fill names, store saw %d calls", store.getCalls)
	}
}

func TestCachedCatalog_ReloadFailureKeepsPreviousCache(t *testing.T) {
	store := &stubStore{defs: map[string]*ToolDefinition{"systemd_restart": testTool("systemd_restart")}}
	c := newTestCatalog(store, 30*time.Second)

	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	store.setFail(true)

	if err := c.Reload(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from failed reload, got %v", err)
	}

	def, stale, err := c.GetByName(context.Background(), "systemd_restart")
	if err != nil || def == nil {
		t.Fatalf("previous snapshot lost: def=%v err=%v", def, err)
	}
	if stale {
		t.Fatal("snapshot entry within TTL should not be stale")
	}
}

func TestLRUCache_EvictsOldest(t *testing.T) {
	c := newLRUCache(2, time.Minute)
	c.set("a", cacheValue{fetched: time.Now()})
	c.set("b", cacheValue{fetched: time.Now()})
	c.set("c", cacheValue{fetched: time.Now()})

	if _, _, ok := c.get("a"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	if _, _, ok := c.get("b"); !ok {
		t.Fatal("expected b retained")
	}
	if _, _, ok := c.get("c"); !ok {
		t.Fatal("expected c retained")
	}
	if c.len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.len())
	}
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := newLRUCache(2, time.Minute)
	c.set("a", cacheValue{fetched: time.Now()})
	c.set("b", cacheValue{fetched: time.Now()})

	c.get("a") // a becomes most recent
	c.set("c", cacheValue{fetched: time.Now()})

	if _, _, ok := c.get("a"); !ok {
		t.Fatal("expected recently used entry retained")
	}
	if _, _, ok := c.get("b"); ok {
		t.Fatal("expected least recently used entry evicted")
	}
}
