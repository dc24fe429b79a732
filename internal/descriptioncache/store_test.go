package descriptioncache

import (
	"testing"
	"time"
)

func TestMemoryStore_LookupMiss(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.Lookup(Key{ModelID: "anthropic:claude-3-5-sonnet", ToolName: "navigate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected miss on empty store")
	}
}

func TestMemoryStore_StoreThenLookup(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	desc := CachedDescription{
		ModelID:          "anthropic:claude-3-5-sonnet",
		ToolName:         "navigate",
		SchemaText:       `{"type":"object"}`,
		Annotations:      map[string]string{"risk": "low"},
		GenerationMillis: 820,
		CreatedAt:        now,
		LastUsedAt:       now,
		UsageCount:       1,
	}
	if err := s.Store(desc); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := s.Lookup(desc.key())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected hit after store")
	}
	if got.SchemaText != desc.SchemaText {
		t.Errorf("SchemaText = %q, want %q", got.SchemaText, desc.SchemaText)
	}
	if got.Annotations["risk"] != "low" {
		t.Errorf("Annotations[risk] = %q, want low", got.Annotations["risk"])
	}
}

func TestMemoryStore_LookupReturnsClone(t *testing.T) {
	s := NewMemoryStore()
	desc := CachedDescription{
		ModelID:     "openai:gpt-4o",
		ToolName:    "click",
		Annotations: map[string]string{"risk": "low"},
	}
	_ = s.Store(desc)

	got, _, _ := s.Lookup(desc.key())
	got.Annotations["risk"] = "high"

	got2, _, _ := s.Lookup(desc.key())
	if got2.Annotations["risk"] != "low" {
		t.Errorf("mutating a looked-up description leaked into the store: got %q", got2.Annotations["risk"])
	}
}

func TestMemoryStore_Touch(t *testing.T) {
	s := NewMemoryStore()
	key := Key{ModelID: "anthropic:claude-3-5-sonnet", ToolName: "screenshot"}
	createdAt := time.Now().Add(-time.Hour)
	_ = s.Store(CachedDescription{ModelID: key.ModelID, ToolName: key.ToolName, CreatedAt: createdAt, LastUsedAt: createdAt, UsageCount: 3})

	touchedAt := time.Now()
	if err := s.Touch(key, touchedAt); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, ok, _ := s.Lookup(key)
	if !ok {
		t.Fatalf("expected row to exist after touch")
	}
	if got.UsageCount != 4 {
		t.Errorf("UsageCount = %d, want 4", got.UsageCount)
	}
	if !got.LastUsedAt.Equal(touchedAt) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, touchedAt)
	}
}

func TestMemoryStore_Touch_MissingKeyIsNoop(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Touch(Key{ModelID: "x", ToolName: "y"}, time.Now()); err != nil {
		t.Fatalf("touch on missing key should be a no-op, got %v", err)
	}
}

func TestMemoryStore_StatsByProvider(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Store(CachedDescription{ModelID: "anthropic:claude-3-5-sonnet", ToolName: "navigate", UsageCount: 5, GenerationMillis: 100})
	_ = s.Store(CachedDescription{ModelID: "anthropic:claude-3-5-sonnet", ToolName: "click", UsageCount: 7, GenerationMillis: 300})
	_ = s.Store(CachedDescription{ModelID: "openai:gpt-4o", ToolName: "navigate", UsageCount: 11, GenerationMillis: 50})

	stats, err := s.StatsByProvider()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("StatsByProvider() len = %d, want 2", len(stats))
	}

	byModel := make(map[string]ModelStats, len(stats))
	for _, m := range stats {
		byModel[m.ModelID] = m
	}

	anthropic, ok := byModel["anthropic:claude-3-5-sonnet"]
	if !ok {
		t.Fatalf("expected a row for anthropic:claude-3-5-sonnet")
	}
	if anthropic.Count != 12 {
		t.Errorf("anthropic Count = %d, want 12", anthropic.Count)
	}
	if anthropic.AvgGenMillis != 200 {
		t.Errorf("anthropic AvgGenMillis = %v, want 200", anthropic.AvgGenMillis)
	}

	openai, ok := byModel["openai:gpt-4o"]
	if !ok {
		t.Fatalf("expected a row for openai:gpt-4o")
	}
	if openai.Count != 11 {
		t.Errorf("openai Count = %d, want 11", openai.Count)
	}
	if openai.AvgGenMillis != 50 {
		t.Errorf("openai AvgGenMillis = %v, want 50", openai.AvgGenMillis)
	}
}

func TestMemoryStore_EvictOlderThan(t *testing.T) {
	s := NewMemoryStore()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	_ = s.Store(CachedDescription{ModelID: "m", ToolName: "stale", LastUsedAt: old})
	_ = s.Store(CachedDescription{ModelID: "m", ToolName: "fresh", LastUsedAt: recent})

	removed, err := s.EvictOlderThan(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, ok, _ := s.Lookup(Key{ModelID: "m", ToolName: "stale"}); ok {
		t.Errorf("expected stale entry to be evicted")
	}
	if _, ok, _ := s.Lookup(Key{ModelID: "m", ToolName: "fresh"}); !ok {
		t.Errorf("expected fresh entry to survive eviction")
	}
}
