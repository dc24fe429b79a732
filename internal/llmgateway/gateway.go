package llmgateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentserver/internal/obs"
)

// fingerprintEntry is one row of the gateway's secondary response cache,
// grounded on the teacher's internal/cache.DedupeCache TTL-eviction shape.
type fingerprintEntry struct {
	text      string
	usage     Usage
	expiresAt time.Time
}

// Gateway is the single entry point for model completions. It never
// retries internally: a transient provider failure is surfaced to the
// caller as a KindLMTransport error, and the task executor (C6) decides
// whether to retry at the task level. This was an explicit design
// decision recorded in the project's grounding ledger rather than copying
// the teacher's internal per-provider retry loop, because retrying both
// inside the gateway and at the task level would double the effective
// retry budget unpredictably.
type Gateway struct {
	mu        sync.Mutex
	providers map[string]Provider
	cache     map[string]fingerprintEntry
	cacheTTL  time.Duration

	sink    CallLogSink
	metrics *obs.Metrics
	pricing PricingTable
}

// PricingTable maps "<provider>:<model>" to per-million-token USD rates.
type PricingTable map[string]ModelPricing

// ModelPricing is the per-million-token cost for one model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// New builds a Gateway with no providers registered; call Register for
// each provider before Query.
func New(cacheTTL time.Duration, sink CallLogSink, metrics *obs.Metrics, pricing PricingTable) *Gateway {
	if sink == nil {
		sink = NewMemoryCallLogSink()
	}
	if pricing == nil {
		pricing = PricingTable{}
	}
	return &Gateway{
		providers: make(map[string]Provider),
		cache:     make(map[string]fingerprintEntry),
		cacheTTL:  cacheTTL,
		sink:      sink,
		metrics:   metrics,
		pricing:   pricing,
	}
}

// Register adds a provider keyed by its Name().
func (g *Gateway) Register(p Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[p.Name()] = p
}

// Query runs prompt against providerName/modelID (falling back to the
// provider's DefaultModel if modelID is empty), consulting the fingerprint
// cache first. taskID and toolName are for call-log attribution only and
// may be empty.
func (g *Gateway) Query(ctx context.Context, providerName, modelID, prompt, purpose, toolName, taskID string) (string, error) {
	g.mu.Lock()
	provider, ok := g.providers[providerName]
	g.mu.Unlock()
	if !ok {
		return "", obs.New(obs.KindLMRejection, fmt.Sprintf("unknown provider %q", providerName))
	}
	if modelID == "" {
		modelID = provider.DefaultModel()
	}

	key := fingerprint(providerName, modelID, purpose, prompt)
	now := time.Now()

	if cached, hit := g.lookupCache(key, now); hit {
		// A cache hit serves the prior generation's text but neither calls the
		// provider nor spends tokens again: the logged usage must reflect
		// that, not the original generation's cost.
		cachedUsage := Usage{InputTokens: cached.usage.InputTokens, OutputTokens: cached.usage.OutputTokens}
		g.logCall(ctx, key, true, providerName, modelID, len(prompt), len(cached.text), cachedUsage, 0, toolName, taskID, now, now)
		if g.metrics != nil {
			g.metrics.LLMRequestCounter.WithLabelValues(providerName, modelID, "success").Inc()
		}
		return cached.text, nil
	}

	start := time.Now()
	text, usage, err := provider.Query(ctx, modelID, prompt, purpose)
	latency := time.Since(start)

	if err != nil {
		if g.metrics != nil {
			g.metrics.LLMRequestCounter.WithLabelValues(providerName, modelID, "error").Inc()
			g.metrics.ErrorCounter.WithLabelValues("llmgateway", string(obs.KindLMTransport)).Inc()
		}
		g.logCall(ctx, key, false, providerName, modelID, len(prompt), 0, usage, latency.Milliseconds(), toolName, taskID, start, time.Now())
		return "", obs.Wrap(obs.KindLMTransport, err)
	}

	usage.EstimatedUSD = g.estimateCost(providerName, modelID, usage)
	g.storeCache(key, text, usage, now)
	g.logCall(ctx, key, false, providerName, modelID, len(prompt), len(text), usage, latency.Milliseconds(), toolName, taskID, start, time.Now())

	if g.metrics != nil {
		g.metrics.LLMRequestCounter.WithLabelValues(providerName, modelID, "success").Inc()
		g.metrics.LLMRequestDuration.WithLabelValues(providerName, modelID, "false").Observe(latency.Seconds())
		g.metrics.LLMCostUSD.WithLabelValues(providerName, modelID).Add(usage.EstimatedUSD)
	}
	return text, nil
}

// Describe implements toolregistry.Describer: a Query call tagged with the
// "tool_description" purpose against the provider named by modelID's
// prefix (via QueryDefault). The
// tool's own human-facing description is static and never comes from this
// call; what's generated here is a per-property annotation fragment that
// the registry merges into the tool's raw parameter schema, so callers
// downstream see richer "description" fields on individual parameters
// without the schema's structure (types, required, enums) ever passing
// through a language model.
func (g *Gateway) Describe(ctx context.Context, modelID, toolName string, schema json.RawMessage) (string, int64, error) {
	prompt := fmt.Sprintf(
		"A tool named %q accepts arguments matching this JSON Schema:\n%s\n\n"+
			"Reply with a single JSON object (and nothing else) mapping each top-level "+
			"property name to a short, client-facing explanation of what to pass for it. "+
			"Example shape: {\"url\": \"the page to navigate to\"}. Do not restate the schema, "+
			"only describe the properties present in it.",
		toolName, string(schema),
	)
	start := time.Now()
	text, err := g.QueryDefault(ctx, modelID, prompt, "tool_description", toolName, "")
	millis := time.Since(start).Milliseconds()
	return text, millis, err
}

// QueryDefault splits modelID at its first ":" and runs Query against the
// provider registered under the prefix, with the remainder as the model
// (empty when modelID has no ":"). Kept for C2's startup generation, which only
// knows a modelID string like "anthropic:claude-3-5-sonnet".
func (g *Gateway) QueryDefault(ctx context.Context, modelID, prompt, purpose, toolName, taskID string) (string, error) {
	providerName, model := splitModelID(modelID)
	return g.Query(ctx, providerName, model, prompt, purpose, toolName, taskID)
}

func splitModelID(modelID string) (provider, model string) {
	parts := strings.SplitN(modelID, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return modelID, ""
}

func (g *Gateway) lookupCache(key string, now time.Time) (fingerprintEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.cache[key]
	if !ok || now.After(e.expiresAt) {
		return fingerprintEntry{}, false
	}
	return e, true
}

func (g *Gateway) storeCache(key, text string, usage Usage, now time.Time) {
	if g.cacheTTL <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = fingerprintEntry{text: text, usage: usage, expiresAt: now.Add(g.cacheTTL)}
}

func (g *Gateway) estimateCost(providerName, modelID string, usage Usage) float64 {
	pricing, ok := g.pricing[providerName+":"+modelID]
	if !ok {
		return 0
	}
	return (float64(usage.InputTokens)/1_000_000)*pricing.InputPerMillion +
		(float64(usage.OutputTokens)/1_000_000)*pricing.OutputPerMillion
}

func (g *Gateway) logCall(ctx context.Context, cacheKey string, cacheHit bool, provider, model string, requestBytes, responseBytes int, usage Usage, latencyMillis int64, toolName, taskID string, start, end time.Time) {
	log := CallLog{
		CallID:        uuid.NewString(),
		CacheKey:      cacheKey,
		CacheHit:      cacheHit,
		Provider:      provider,
		ModelID:       model,
		RequestBytes:  int64(requestBytes),
		ResponseBytes: int64(responseBytes),
		InputTokens:   usage.InputTokens,
		OutputTokens:  usage.OutputTokens,
		LatencyMillis: latencyMillis,
		EstimatedCost: usage.EstimatedUSD,
		ToolName:      toolName,
		TaskID:        taskID,
		TraceID:       obs.TraceID(ctx),
		CreatedAt:     start,
		CompletedAt:   end,
	}
	g.sink.Append(log)
}

func fingerprint(provider, model, purpose, prompt string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(purpose))
	h.Write([]byte{0})
	h.Write([]byte(normalizePrompt(prompt)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}
