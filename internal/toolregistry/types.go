// Package toolregistry implements the tool registry (C2): explicit
// registration of every callable tool, startup generation of per-parameter
// schema annotations via the language-model gateway (with the description
// cache consulted first), and name-based lookup for the task
// executor and protocol façade. Grounded on the teacher's
// internal/agent.ToolRegistry, generalized from direct LLM-conversation
// tool calling to a standalone descriptor catalog.
package toolregistry

import (
	"context"
	"encoding/json"
)

// RiskClass classifies how much latitude a tool has to affect the world,
// matching spec.md §3 exactly.
type RiskClass string

const (
	RiskLow    RiskClass = "low"
	RiskMedium RiskClass = "medium"
	RiskHigh   RiskClass = "high"
)

// ToolDescriptor is the published, client-facing shape of a registered
// tool, matching spec.md §3 exactly.
type ToolDescriptor struct {
	Name             string
	HumanDescription string
	ParameterSchema  json.RawMessage
	RiskClass        RiskClass
	ImplementationRef string
	Async            bool
}

// Tool is the internal contract every callable tool satisfies, grounded on
// the teacher's agent.Tool interface.
type Tool interface {
	// Name is the stable identifier used in JSON-RPC tools/call requests.
	Name() string

	// HumanDescription is the tool's own static, client-facing description.
	// It is declared by the tool, not generated: the registry never
	// overwrites it with language-model output.
	HumanDescription() string

	// RawParameterSchema is the machine-facing JSON Schema describing
	// accepted arguments, used both for request validation and as the base
	// that generated per-property annotations are merged into.
	RawParameterSchema() json.RawMessage

	// RiskClass reports the tool's declared risk tier.
	RiskClass() RiskClass

	// ImplementationRef is a stable string identifying the underlying
	// implementation (e.g. a webaction primitive name), surfaced to
	// operators but not required by clients.
	ImplementationRef() string

	// Async reports whether tools/call must route this tool through the
	// task executor rather than answering synchronously.
	Async() bool

	// Execute runs the tool against validated arguments.
	Execute(ctx context.Context, args json.RawMessage) (result json.RawMessage, err error)
}

// Limits mirror the teacher's MaxToolNameLength/MaxToolParamsSize
// resource-exhaustion guards.
const (
	MaxToolNameLength  = 256
	MaxToolParamsBytes = 10 << 20
)
