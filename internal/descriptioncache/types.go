// Package descriptioncache implements the description cache (C1): a
// (modelId, toolName) keyed store of previously generated tool descriptions,
// grounded on the teacher's internal/jobs.Store interface shape and
// internal/cache.DedupeCache's TTL-eviction pattern.
package descriptioncache

import "time"

// Key identifies a cached description.
type Key struct {
	ModelID  string
	ToolName string
}

// CachedDescription is one cache row, matching spec.md §3 exactly.
type CachedDescription struct {
	ModelID         string
	ToolName        string
	SchemaText      string
	Annotations     map[string]string
	GenerationMillis int64
	CreatedAt       time.Time
	LastUsedAt      time.Time
	UsageCount      int64
}

func (c *CachedDescription) key() Key {
	return Key{ModelID: c.ModelID, ToolName: c.ToolName}
}

// ModelStats is one row of a StatsByProvider report: the summed usage
// count across a modelId's cached descriptions, and how long they took to
// generate on average, for operator-facing cache-hit-rate reporting.
type ModelStats struct {
	ModelID      string
	Count        int64
	AvgGenMillis float64
}
