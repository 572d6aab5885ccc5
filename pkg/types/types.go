// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the warp runtime.
// This package breaks import cycles by providing common types that the
// agent, llm, memory, and scheduler packages all depend on.
package types

import (
	"context"
	"time"

	"github.com/teradata-labs/warp/pkg/tools"
)

// ============================================================================
// Task Types
// ============================================================================

// TaskOrigin identifies what produced a task.
type TaskOrigin string

const (
	// OriginChat is a task created from an inbound user message.
	OriginChat TaskOrigin = "chat"

	// OriginScheduler is a task created by a trigger firing.
	OriginScheduler TaskOrigin = "scheduler"

	// OriginDashboard is a task submitted through the HTTP gateway.
	OriginDashboard TaskOrigin = "dashboard"

	// OriginSubAgent is a child task created by delegation.
	OriginSubAgent TaskOrigin = "subagent"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskQueued          TaskStatus = "queued"
	TaskWaitingApproval TaskStatus = "waiting_approval"
	TaskRunning         TaskStatus = "running"
	TaskCompleted       TaskStatus = "completed"
	TaskFailed          TaskStatus = "failed"
	TaskCancelled       TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal tasks are never
// claimed again and their transcript is frozen.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Task is one unit of agent work, from either a user message or a
// scheduled trigger. The scheduler owns a task until an agent loop claims
// it; the claiming loop owns it until a terminal status.
type Task struct {
	// ID is the unique task identifier
	ID string `json:"id"`

	// Origin identifies what produced this task
	Origin TaskOrigin `json:"origin"`

	// Payload is the user text or trigger description the agent works on
	Payload string `json:"payload"`

	// Priority orders dequeue; higher runs first
	Priority int `json:"priority"`

	// Status is the lifecycle state
	Status TaskStatus `json:"status"`

	// Trigger names the trigger that fired this task (scheduler origin only)
	Trigger string `json:"trigger,omitempty"`

	// ParentID links a delegated child task to its parent
	ParentID string `json:"parent_id,omitempty"`

	// NeedsApproval marks tasks held in waiting_approval until a human
	// approves them (ask-first autonomy mode)
	NeedsApproval bool `json:"needs_approval,omitempty"`

	// Result is the final answer text (terminal tasks only)
	Result string `json:"result,omitempty"`

	// Error is the failure description (failed tasks only)
	Error string `json:"error,omitempty"`

	// Metadata carries collaborator-specific context (correlation ids,
	// reply routing, trigger details)
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the task was enqueued
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when an agent loop claimed the task (zero until claimed)
	StartedAt time.Time `json:"started_at,omitempty"`

	// FinishedAt is when the task reached a terminal status
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// ============================================================================
// Conversation Types
// ============================================================================

// Turn roles. Shared by ConversationTurn and Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ConversationTurn is one immutable entry in a task's dialogue history.
// Turns are append-only: committed once their producing step fully
// returns, never mutated afterwards.
type ConversationTurn struct {
	// ID is the unique turn identifier
	ID string `json:"id"`

	// TaskID references the owning task
	TaskID string `json:"task_id"`

	// Seq is the commit sequence within the task, starting at 0.
	// Turns of one task are totally ordered by Seq.
	Seq int `json:"seq"`

	// Role is the turn author (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the turn text
	Content string `json:"content"`

	// ToolCalls contains tool invocations proposed by an assistant turn
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is the id of the tool call a role=tool turn answers
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a role=tool turn whose invocation failed
	IsError bool `json:"is_error,omitempty"`

	// TokenCount for cost tracking
	TokenCount int `json:"token_count,omitempty"`

	// CreatedAt is when the turn was committed
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================================
// Memory Types
// ============================================================================

// MemoryRecord is one immutable long-term, similarity-indexed memory
// entry. Records are write-once: superseded by new records, never
// updated in place, so embedding/text pairs stay consistent.
type MemoryRecord struct {
	// ID is the unique record identifier
	ID string `json:"id"`

	// Namespace scopes the record to an agent (children read their
	// parent's namespace but write their own)
	Namespace string `json:"namespace"`

	// Text is the remembered content
	Text string `json:"text"`

	// Embedding is the fixed-length vector for similarity search
	Embedding []float32 `json:"-"`

	// Metadata holds source, topic, importance and similar scalars
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the record was written
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================================
// Provider Types
// ============================================================================

// Capability tags a provider feature a request can require.
type Capability string

const (
	CapReasoning     Capability = "reasoning"
	CapToolUse       Capability = "tool_use"
	CapSummarization Capability = "summarization"
	CapEmbedding     Capability = "embedding"
	CapSearch        Capability = "search"
	CapSocial        Capability = "social"
)

// LatencyClass buckets a provider's expected response latency.
type LatencyClass string

const (
	LatencyFast   LatencyClass = "fast"
	LatencyMedium LatencyClass = "medium"
	LatencySlow   LatencyClass = "slow"
)

// Rank returns the sort order of the latency class, fastest first.
// Unknown classes sort last.
func (l LatencyClass) Rank() int {
	switch l {
	case LatencyFast:
		return 0
	case LatencyMedium:
		return 1
	case LatencySlow:
		return 2
	}
	return 3
}

// AvailabilityProbe reports whether a provider backend is currently
// reachable. A nil error means available.
type AvailabilityProbe func(ctx context.Context) error

// ProviderProfile is the static descriptor of one LLM backend's
// capabilities, cost, and health. Profiles are loaded at startup and
// immutable for the process lifetime.
type ProviderProfile struct {
	// Name is the unique profile identifier
	Name string `json:"name" mapstructure:"name"`

	// Adapter selects the provider implementation
	// (anthropic, bedrock, gemini, ollama, xai)
	Adapter string `json:"adapter" mapstructure:"adapter"`

	// Model is the backend model identifier
	Model string `json:"model" mapstructure:"model"`

	// Capabilities lists what this backend can do
	Capabilities []Capability `json:"capabilities" mapstructure:"capabilities"`

	// CostWeight orders providers by price; lower is cheaper
	CostWeight float64 `json:"cost_weight" mapstructure:"cost_weight"`

	// LatencyClass breaks cost ties; faster wins
	LatencyClass LatencyClass `json:"latency_class" mapstructure:"latency_class"`

	// MaxTokens caps the response length per call
	MaxTokens int `json:"max_tokens,omitempty" mapstructure:"max_tokens"`

	// Temperature is the sampling temperature passed to the backend
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`

	// Probe is the availability predicate, attached when the profile's
	// adapter is constructed. Never serialized.
	Probe AvailabilityProbe `json:"-" mapstructure:"-"`
}

// HasCapabilities reports whether the profile's capability set is a
// superset of required.
func (p *ProviderProfile) HasCapabilities(required []Capability) bool {
	for _, req := range required {
		found := false
		for _, c := range p.Capabilities {
			if c == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RouteDecision is the chosen provider plus ordered fallback alternates
// for one request. Ephemeral: recomputed per call, never persisted.
type RouteDecision struct {
	// Provider is the chosen profile
	Provider *ProviderProfile `json:"provider"`

	// FallbackChain is the ordered sequence of alternates, tried on
	// transient failure of the chosen provider
	FallbackChain []*ProviderProfile `json:"fallback_chain,omitempty"`

	// ReasonTag explains the selection (e.g. "cheapest_capable")
	ReasonTag string `json:"reason_tag"`
}

// Chain returns the full ordered attempt sequence: the chosen provider
// followed by its fallbacks.
func (d *RouteDecision) Chain() []*ProviderProfile {
	chain := make([]*ProviderProfile, 0, 1+len(d.FallbackChain))
	chain = append(chain, d.Provider)
	chain = append(chain, d.FallbackChain...)
	return chain
}

// Attempt is the structured record of one provider call within an
// execute. The router emits these for the caller to persist; it keeps
// no usage history itself.
type Attempt struct {
	// Provider is the profile name used
	Provider string `json:"provider"`

	// Model is the backend model invoked
	Model string `json:"model"`

	// StartedAt is when the attempt began
	StartedAt time.Time `json:"started_at"`

	// LatencyMs is the attempt duration in milliseconds
	LatencyMs int64 `json:"latency_ms"`

	// Success reports whether the attempt returned a response
	Success bool `json:"success"`

	// Usage is the token spend of a successful attempt
	Usage Usage `json:"usage"`

	// Error is the failure description for unsuccessful attempts
	Error string `json:"error,omitempty"`

	// Retryable reports whether the failure was transient
	Retryable bool `json:"retryable,omitempty"`
}

// ============================================================================
// Budget Types
// ============================================================================

// Budget is a hard cap bounding an agent loop or sub-agent's work
// before forced termination. Budgets are strictly bounded and
// non-renewable; exhaustion forces termination, not extension.
type Budget struct {
	// MaxSteps caps reasoning steps (router calls); 0 means unlimited
	MaxSteps int `json:"max_steps" mapstructure:"max_steps"`

	// MaxToolCalls caps tool invocations; 0 means unlimited
	MaxToolCalls int `json:"max_tool_calls" mapstructure:"max_tool_calls"`

	// MaxTokens caps total tokens consumed; 0 means unlimited
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`

	// MaxWallClock caps elapsed run time; 0 means unlimited
	MaxWallClock time.Duration `json:"max_wall_clock" mapstructure:"max_wall_clock"`
}

// SubAgentHandle is a budget-bounded delegated child task and its
// lifecycle state. Owned by the orchestrator; released once the child
// reaches a terminal status or its budget runs out.
type SubAgentHandle struct {
	// ParentTaskID is the delegating task
	ParentTaskID string `json:"parent_task_id"`

	// ChildTaskID is the spawned child task
	ChildTaskID string `json:"child_task_id"`

	// Budget bounds the child's work; non-renewable
	Budget Budget `json:"budget"`

	// Status mirrors the child task's lifecycle state
	Status TaskStatus `json:"status"`

	// Result is the child's final (or partial) answer
	Result string `json:"result,omitempty"`

	// Error describes the child's failure, when failed
	Error string `json:"error,omitempty"`
}

// ============================================================================
// Step Event Types
// ============================================================================

// StepEventType is the vocabulary of live step events emitted per task.
type StepEventType string

const (
	EventThinking   StepEventType = "thinking"
	EventToolCall   StepEventType = "tool_call"
	EventToolResult StepEventType = "tool_result"
	EventResponse   StepEventType = "response"
	EventError      StepEventType = "error"
	EventDone       StepEventType = "done"
)

// StepEvent is one live progress event for a task, consumed by chat
// transports and the dashboard's live view.
type StepEvent struct {
	// TaskID keys the event to its task
	TaskID string `json:"task_id"`

	// Type is the event kind
	Type StepEventType `json:"type"`

	// Payload is the event text (thinking excerpt, tool result summary,
	// final answer, error description)
	Payload string `json:"payload,omitempty"`

	// ToolName is set on tool_call and tool_result events
	ToolName string `json:"tool_name,omitempty"`

	// Step is the loop step that produced the event
	Step int `json:"step"`

	// Timestamp is when the event was emitted
	Timestamp time.Time `json:"timestamp"`
}

// ============================================================================
// LLM Types
// ============================================================================

// ToolCall represents a tool invocation by the LLM.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string `json:"id"`

	// Name is the tool name
	Name string `json:"name"`

	// Input contains the tool arguments as JSON
	Input map[string]interface{} `json:"input,omitempty"`
}

// Message represents a single message in a provider conversation.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string

	// Content is the message text
	Content string

	// ToolCalls contains tool invocations (if role is assistant)
	ToolCalls []ToolCall

	// ToolUseID is the id of the tool call this result corresponds to
	// (if role is tool). Providers use it to match tool results to
	// tool requests.
	ToolUseID string

	// ToolResult contains tool execution output (if role is tool)
	ToolResult *tools.Result
}

// Usage tracks LLM token usage and costs.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// LLMResponse represents a response from the LLM.
type LLMResponse struct {
	// Content is the text response (if no tool calls)
	Content string

	// ToolCalls contains requested tool executions
	ToolCalls []ToolCall

	// StopReason indicates why the LLM stopped
	StopReason string

	// Usage tracks token usage
	Usage Usage

	// Metadata contains provider-specific metadata
	Metadata map[string]interface{}

	// Thinking contains the model's reasoning trace, for models that
	// expose it
	Thinking string
}

// Provider defines the uniform call contract for LLM backends. The
// router dispatches through this interface; no type-per-provider
// branching above it.
type Provider interface {
	// Chat sends a conversation to the LLM and returns the response
	Chat(ctx context.Context, messages []Message, toolset []tools.Tool) (*LLMResponse, error)

	// Name returns the provider name
	Name() string

	// Model returns the model identifier
	Model() string
}

// TokenCallback is called for each token/chunk during streaming.
// Implementations should be lightweight and non-blocking.
type TokenCallback func(token string)

// StreamingProvider extends Provider with token streaming support.
type StreamingProvider interface {
	Provider

	// ChatStream streams tokens as they're generated from the LLM.
	// Returns the complete LLMResponse after the stream finishes.
	ChatStream(ctx context.Context, messages []Message, toolset []tools.Tool,
		tokenCallback TokenCallback) (*LLMResponse, error)
}

// SupportsStreaming checks if a provider supports token streaming.
func SupportsStreaming(provider Provider) bool {
	_, ok := provider.(StreamingProvider)
	return ok
}

// Embedder produces fixed-length embedding vectors for text. The
// dimensionality is fixed per deployment; mixing dimensions in one
// long-term store is a configuration error.
type Embedder interface {
	// Embed returns the embedding vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length this embedder produces
	Dimensions() int
}
