package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentserver/internal/descriptioncache"
	"github.com/haasonsaas/agentserver/internal/obs"
)

// Describer generates a per-property parameter annotation fragment for a
// tool under a given model, the one operation the registry needs from C3 at
// startup. The returned text is a JSON object mapping property names to
// short explanations, not prose: the registry merges it into the tool's raw
// schema rather than using it as the tool's human-facing description, which
// is declared statically by the tool itself. Declared locally (rather than
// importing llmgateway directly) so toolregistry has no dependency on the
// gateway's retry/cost-accounting concerns, grounded on the teacher's
// pattern of narrow per-package interfaces over providers.
type Describer interface {
	Describe(ctx context.Context, modelID string, toolName string, schema json.RawMessage) (text string, generationMillis int64, err error)
}

// Registry is the tool catalog: explicit registration of declared tools,
// plus the published descriptor list built once at startup (or rebuilt on
// ModelID change), grounded on the teacher's agent.ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string // declaration order, for stable List() output per spec.md §4.2

	descriptions descriptioncache.Store
	describer    Describer
	metrics      *obs.Metrics

	modelID        string
	published      map[string]ToolDescriptor
	publishedOrder []string
	maxParallel    int
}

// New builds a Registry. maxParallel bounds concurrent description
// generation during Build (SPEC_FULL.md requires this be bounded rather
// than unbounded fan-out across potentially dozens of tools).
func New(descriptions descriptioncache.Store, describer Describer, metrics *obs.Metrics, maxParallel int) *Registry {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Registry{
		tools:        make(map[string]Tool),
		descriptions: descriptions,
		describer:    describer,
		metrics:      metrics,
		published:    make(map[string]ToolDescriptor),
		maxParallel:  maxParallel,
	}
}

// Register adds tool to the catalog. Call before Build; registering after
// Build requires a subsequent Build call to publish the new tool. Returns
// an error if a tool with the same name is already registered, per
// spec.md §4.2's "duplicates by name are a startup error".
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %q is already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.order = append(r.order, tool.Name())
	return nil
}

// Resolve returns the registered Tool implementation by name, for the task
// executor to invoke. Unlike List, this bypasses the published-descriptor
// snapshot and always reflects the live registration map.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the published descriptor snapshot built by the last Build
// call, in declaration order, for tools/list responses.
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.publishedOrder))
	for _, name := range r.publishedOrder {
		out = append(out, r.published[name])
	}
	return out
}

// Describe returns the single published descriptor for name.
func (r *Registry) Describe(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.published[name]
	return d, ok
}

// Build runs the startup description algorithm: for every registered tool,
// look up a cached description under (modelID, tool.Name()); on a miss,
// generate one via the describer and store it; on any failure, fall back
// to a descriptor built directly from the tool's raw schema rather than
// failing the whole build. Generation is bounded to maxParallel concurrent
// calls.
func (r *Registry) Build(ctx context.Context, modelID string) error {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	tools := make([]Tool, 0, len(order))
	for _, name := range order {
		tools = append(tools, r.tools[name])
	}
	r.mu.RUnlock()

	sem := make(chan struct{}, r.maxParallel)
	descriptors := make([]ToolDescriptor, len(tools))
	var wg sync.WaitGroup

	for i, t := range tools {
		i, t := i, t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			descriptors[i] = r.describeOne(ctx, modelID, t)
		}()
	}
	wg.Wait()

	published := make(map[string]ToolDescriptor, len(descriptors))
	for _, d := range descriptors {
		published[d.Name] = d
	}

	r.mu.Lock()
	r.modelID = modelID
	r.published = published
	r.publishedOrder = order
	r.mu.Unlock()
	return nil
}

// describeOne builds one tool's published descriptor. HumanDescription
// always comes from the tool itself, never from a language model.
// ParameterSchema starts as the tool's raw schema and, when a per-property
// annotation fragment is available (from cache or a fresh Describe call),
// is the raw schema with those annotations merged in.
func (r *Registry) describeOne(ctx context.Context, modelID string, t Tool) ToolDescriptor {
	schema := t.RawParameterSchema()
	fallback := ToolDescriptor{
		Name:              t.Name(),
		HumanDescription:  t.HumanDescription(),
		ParameterSchema:   schema,
		RiskClass:         t.RiskClass(),
		ImplementationRef: t.ImplementationRef(),
		Async:             t.Async(),
	}

	if err := validateSchema(schema); err != nil {
		if r.metrics != nil {
			r.metrics.ErrorCounter.WithLabelValues("toolregistry", string(obs.KindArgumentInvalid)).Inc()
		}
		return fallback
	}

	key := descriptioncache.Key{ModelID: modelID, ToolName: t.Name()}
	if r.descriptions != nil {
		if cached, ok, err := r.descriptions.Lookup(key); err == nil && ok {
			_ = r.descriptions.Touch(key, time.Now())
			if fragment, err := extractJSONFragment(cached.SchemaText); err == nil {
				fallback.ParameterSchema = mergeParameterAnnotations(schema, fragment)
			}
			return fallback
		}
	}

	if r.describer == nil {
		return fallback
	}

	text, millis, err := r.describer.Describe(ctx, modelID, t.Name(), schema)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ErrorCounter.WithLabelValues("toolregistry", string(obs.KindLMTransport)).Inc()
		}
		return fallback
	}

	fragment, err := extractJSONFragment(text)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ErrorCounter.WithLabelValues("toolregistry", string(obs.KindLMUnparseable)).Inc()
		}
		return fallback
	}
	fallback.ParameterSchema = mergeParameterAnnotations(schema, fragment)

	if r.descriptions != nil {
		now := time.Now()
		_ = r.descriptions.Store(descriptioncache.CachedDescription{
			ModelID:          modelID,
			ToolName:         t.Name(),
			SchemaText:       text,
			Annotations:      map[string]string{"risk": string(t.RiskClass())},
			GenerationMillis: millis,
			CreatedAt:        now,
			LastUsedAt:       now,
			UsageCount:       1,
		})
	}
	return fallback
}

var (
	jsonFenceOpen  = regexp.MustCompile("^```(?:json)?\\s*\\n?")
	jsonFenceClose = regexp.MustCompile("\\n?```\\s*$")
)

// extractJSONFragment pulls a JSON object out of LM output that may be
// wrapped in prose or a markdown code fence, grounded on the teacher pack's
// middleware.defaultJSONTransform (fence stripping, in
// digitallysavvy-go-ai/pkg/middleware/extract_json.go) and
// jsonutil.aggressiveFix (trimming to the outermost brace span, in
// digitallysavvy-go-ai/pkg/internal/jsonutil/repair.go).
func extractJSONFragment(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(jsonFenceClose.ReplaceAllString(jsonFenceOpen.ReplaceAllString(text, ""), ""))

	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return json.RawMessage(trimmed), nil
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object found in generated text")
	}
	candidate := trimmed[start : end+1]
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, fmt.Errorf("extracted fragment is not valid JSON: %w", err)
	}
	return json.RawMessage(candidate), nil
}

// mergeParameterAnnotations folds a {"propertyName": "description"}
// fragment into raw's top-level "properties" object, setting or overwriting
// each named property's "description" field. Property names absent from
// raw's schema, or a fragment that isn't a flat string map, leave raw
// unchanged.
func mergeParameterAnnotations(raw, fragment json.RawMessage) json.RawMessage {
	var annotations map[string]string
	if err := json.Unmarshal(fragment, &annotations); err != nil || len(annotations) == 0 {
		return raw
	}

	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return raw
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return raw
	}
	for name, desc := range annotations {
		prop, ok := props[name].(map[string]interface{})
		if !ok {
			continue
		}
		prop["description"] = desc
		props[name] = prop
	}
	schema["properties"] = props

	merged, err := json.Marshal(schema)
	if err != nil {
		return raw
	}
	return json.RawMessage(merged)
}

// ValidateArguments checks args against tool's parameter schema, returning
// an *obs.Error with KindArgumentInvalid on mismatch.
func (r *Registry) ValidateArguments(toolName string, args json.RawMessage) error {
	t, ok := r.Resolve(toolName)
	if !ok {
		return obs.New(obs.KindToolNotFound, toolName)
	}
	compiled, err := compileSchema(t.RawParameterSchema())
	if err != nil {
		return obs.Wrap(obs.KindArgumentInvalid, err)
	}
	var v interface{}
	if err := json.Unmarshal(args, &v); err != nil {
		return obs.Wrap(obs.KindArgumentInvalid, err)
	}
	if err := compiled.Validate(v); err != nil {
		return obs.Wrap(obs.KindArgumentInvalid, err)
	}
	return nil
}

func validateSchema(schema json.RawMessage) error {
	_, err := compileSchema(schema)
	return err
}

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}
