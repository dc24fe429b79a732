package llmgateway

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentserver/internal/obs"
)

type stubProvider struct {
	name    string
	model   string
	calls   int
	purpose string
	text    string
	usage   Usage
	failErr error
}

func (p *stubProvider) Name() string         { return p.name }
func (p *stubProvider) DefaultModel() string { return p.model }
func (p *stubProvider) Query(ctx context.Context, modelID, prompt, purpose string) (string, Usage, error) {
	p.calls++
	p.purpose = purpose
	if p.failErr != nil {
		return "", Usage{}, p.failErr
	}
	return p.text, p.usage, nil
}

func TestGateway_QueryCachesOnFingerprint(t *testing.T) {
	sink := NewMemoryCallLogSink()
	provider := &stubProvider{name: "anthropic", model: "claude-3-5-sonnet", text: "a description", usage: Usage{InputTokens: 10, OutputTokens: 5}}
	gw := New(time.Minute, sink, obs.NewNoopMetrics(), nil)
	gw.Register(provider)

	text1, err := gw.Query(context.Background(), "anthropic", "", "describe navigate", "tool_description", "navigate", "")
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	text2, err := gw.Query(context.Background(), "anthropic", "", "describe navigate", "tool_description", "navigate", "")
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if text1 != text2 {
		t.Errorf("text1 = %q, text2 = %q, want equal", text1, text2)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1 (second should be a cache hit)", provider.calls)
	}

	logs := sink.All()
	if len(logs) != 2 {
		t.Fatalf("expected 2 call logs, got %d", len(logs))
	}
	if logs[0].CacheHit {
		t.Errorf("first call should not be a cache hit")
	}
	if !logs[1].CacheHit {
		t.Errorf("second call should be a cache hit")
	}
}

func TestGateway_QueryWrapsProviderError(t *testing.T) {
	sink := NewMemoryCallLogSink()
	provider := &stubProvider{name: "openai", model: "gpt-4o", failErr: context.DeadlineExceeded}
	gw := New(time.Minute, sink, obs.NewNoopMetrics(), nil)
	gw.Register(provider)

	_, err := gw.Query(context.Background(), "openai", "", "prompt", "webaction_step_plan", "", "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if obs.KindOf(err) != obs.KindLMTransport {
		t.Errorf("KindOf(err) = %v, want LMTransport", obs.KindOf(err))
	}
}

func TestGateway_QueryUnknownProvider(t *testing.T) {
	gw := New(time.Minute, nil, obs.NewNoopMetrics(), nil)
	_, err := gw.Query(context.Background(), "nonexistent", "", "p", "purpose", "", "")
	if obs.KindOf(err) != obs.KindLMRejection {
		t.Errorf("KindOf(err) = %v, want LMRejection", obs.KindOf(err))
	}
}

func TestGateway_EstimateCostAppliesPricing(t *testing.T) {
	sink := NewMemoryCallLogSink()
	provider := &stubProvider{name: "anthropic", model: "claude-3-5-sonnet", text: "x", usage: Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}}
	pricing := PricingTable{"anthropic:claude-3-5-sonnet": {InputPerMillion: 3, OutputPerMillion: 15}}
	gw := New(time.Minute, sink, obs.NewNoopMetrics(), pricing)
	gw.Register(provider)

	_, err := gw.Query(context.Background(), "anthropic", "claude-3-5-sonnet", "p", "purpose", "", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	logs := sink.All()
	if logs[0].EstimatedCost != 18 {
		t.Errorf("EstimatedCost = %v, want 18", logs[0].EstimatedCost)
	}
}

func TestGateway_QueryCacheHitLogsZeroCost(t *testing.T) {
	sink := NewMemoryCallLogSink()
	provider := &stubProvider{name: "anthropic", model: "claude-3-5-sonnet", text: "a description", usage: Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}}
	pricing := PricingTable{"anthropic:claude-3-5-sonnet": {InputPerMillion: 3, OutputPerMillion: 15}}
	gw := New(time.Minute, sink, obs.NewNoopMetrics(), pricing)
	gw.Register(provider)

	if _, err := gw.Query(context.Background(), "anthropic", "", "describe navigate", "tool_description", "navigate", ""); err != nil {
		t.Fatalf("first query: %v", err)
	}
	if _, err := gw.Query(context.Background(), "anthropic", "", "describe navigate", "tool_description", "navigate", ""); err != nil {
		t.Fatalf("second query: %v", err)
	}

	logs := sink.All()
	if len(logs) != 2 {
		t.Fatalf("expected 2 call logs, got %d", len(logs))
	}
	if logs[0].EstimatedCost != 18 {
		t.Errorf("first call EstimatedCost = %v, want 18", logs[0].EstimatedCost)
	}
	if !logs[1].CacheHit {
		t.Fatalf("second call should be a cache hit")
	}
	if logs[1].EstimatedCost != 0 {
		t.Errorf("cache-hit EstimatedCost = %v, want 0", logs[1].EstimatedCost)
	}
	if logs[1].LatencyMillis != 0 {
		t.Errorf("cache-hit LatencyMillis = %v, want 0", logs[1].LatencyMillis)
	}
}

func TestGateway_DescribeUsesToolDescriptionPurpose(t *testing.T) {
	sink := NewMemoryCallLogSink()
	provider := &stubProvider{name: "anthropic", model: "claude-3-5-sonnet", text: "navigates to a URL"}
	gw := New(time.Minute, sink, obs.NewNoopMetrics(), nil)
	gw.Register(provider)

	text, millis, err := gw.Describe(context.Background(), "anthropic:claude-3-5-sonnet", "navigate", []byte(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if text != "navigates to a URL" {
		t.Errorf("text = %q", text)
	}
	if millis < 0 {
		t.Errorf("millis = %d, want >= 0", millis)
	}
	if provider.purpose != "tool_description" {
		t.Errorf("provider purpose = %q, want %q", provider.purpose, "tool_description")
	}
}
