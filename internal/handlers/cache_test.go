package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/profile-provisioning/internal/cache"
	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/storage"
)

type cacheStub struct {
	entries map[string]string
	setErr  error
}

func (c *cacheStub) Get(ctx context.Context, key string) (string, bool, error) {
	val, ok := c.entries[key]
	return val, ok, nil
}

func (c *cacheStub) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	if c.entries == nil {
		c.entries = make(map[string]string)
	}
	c.entries[key] = value
	return nil
}

func (c *cacheStub) Invalidate(ctx context.Context, pattern string) error {
	delete(c.entries, pattern)
	return nil
}

func (c *cacheStub) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, ok := c.entries[key]; ok {
		return false, nil
	}
	return true, c.Set(ctx, key, value, ttl)
}

func cacheEnvelope(t *testing.T, payload jobs.CachePayload) *jobs.Envelope {
	t.Helper()
	env, err := jobs.NewEnvelope(jobs.TypeUpdateCache, "corr-1", 3, payload)
	if err != nil {
		t.Fatalf("unexpected envelope error: %v", err)
	}
	return env
}

func TestCacheHandlerWritesProfileSummary(t *testing.T) {
	deps, store, _, _ := testDeps(t)
	stub := &cacheStub{}
	deps.Cache = stub
	ctx := context.Background()
	_ = store.Set(ctx, storage.CollectionProfiles, "p-1", map[string]any{
		"status":    storage.ProfileStatusActive,
		"fullName":  "Ana Souza",
		"bloodType": "O+",
	})

	h := NewCacheHandler(deps)
	output, err := h.Execute(ctx, pctx(), cacheEnvelope(t, jobs.CachePayload{ProfileID: "p-1"}))
	if err != nil {
		t.Fatalf("unexpected execute error: %v", err)
	}
	if output.(map[string]any)["cached"] != true {
		t.Fatalf("expected cached:true, got %v", output)
	}

	raw, ok := stub.entries[cache.ProfileKey("p-1")]
	if !ok {
		t.Fatalf("expected cache entry for profile")
	}
	var summary map[string]any
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		t.Fatalf("cached summary is not json: %v", err)
	}
	if summary["fullName"] != "Ana Souza" || summary["bloodType"] != "O+" {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestCacheHandlerCompletesDespiteCacheOutage(t *testing.T) {
	deps, store, _, _ := testDeps(t)
	deps.Cache = &cacheStub{setErr: errors.New("redis down")}
	ctx := context.Background()
	_ = store.Set(ctx, storage.CollectionProfiles, "p-1", map[string]any{"status": storage.ProfileStatusActive})

	h := NewCacheHandler(deps)
	output, err := h.Execute(ctx, pctx(), cacheEnvelope(t, jobs.CachePayload{ProfileID: "p-1"}))
	if err != nil {
		t.Fatalf("cache outage must not fail the job, got %v", err)
	}
	if output.(map[string]any)["cached"] != false {
		t.Fatalf("expected cached:false on outage, got %v", output)
	}
}

func TestCacheHandlerUnknownProfileIsPermanent(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	h := NewCacheHandler(deps)

	_, err := h.Execute(context.Background(), pctx(), cacheEnvelope(t, jobs.CachePayload{ProfileID: "ghost"}))
	if !errors.Is(err, processor.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestRegistryCoversEveryJobType(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	deps.Gateway = &gatewayStub{}

	registry, err := NewRegistry(deps)
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	for _, jobType := range jobs.Types() {
		handler, ok := registry[jobType]
		if !ok {
			t.Fatalf("no handler registered for %s", jobType)
		}
		if handler.JobType() != jobType {
			t.Fatalf("handler for %s reports %s", jobType, handler.JobType())
		}
	}
}
