// Package executor provides task execution implementations.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencode-ai/opencode/internal/agent"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/tool"
)

// SubagentExecutor implements tool.TaskExecutor (SPEC_FULL Part D item 4:
// "sub-agent task dispatch") by spawning a nested internal/session.Runtime
// — the same C7 conversation core the parent turn runs on — rather than
// the teacher's now-removed Processor. Each subtask gets its own session
// (C1) and its own loop-detector state (C6), per spec §3's Ownership rule
// that the loop detector owns only its own fingerprint windows; nesting a
// Runtime inside a tool call is invisible to the parent's C6 state.
type SubagentExecutor struct {
	store            *session.Store
	providerRegistry *provider.Registry
	toolRegistry     *tool.Registry
	agentRegistry    *agent.Registry

	defaultProviderID string
	defaultModelID    string
}

// SubagentExecutorConfig holds configuration for creating a SubagentExecutor.
type SubagentExecutorConfig struct {
	Store             *session.Store
	ProviderRegistry  *provider.Registry
	ToolRegistry      *tool.Registry
	AgentRegistry     *agent.Registry
	DefaultProviderID string
	DefaultModelID    string
}

// NewSubagentExecutor creates a new SubagentExecutor.
func NewSubagentExecutor(cfg SubagentExecutorConfig) *SubagentExecutor {
	return &SubagentExecutor{
		store:             cfg.Store,
		providerRegistry:  cfg.ProviderRegistry,
		toolRegistry:      cfg.ToolRegistry,
		agentRegistry:     cfg.AgentRegistry,
		defaultProviderID: cfg.DefaultProviderID,
		defaultModelID:    cfg.DefaultModelID,
	}
}

// ExecuteSubtask implements tool.TaskExecutor.ExecuteSubtask. It creates a
// child session, drives it through exactly one Runtime.Turn (spec §4.7),
// and returns the child's final assistant text as llm_content (spec §4.3's
// result shape).
func (e *SubagentExecutor) ExecuteSubtask(
	ctx context.Context,
	parentSessionID string,
	agentName string,
	prompt string,
	opts tool.TaskOptions,
) (*tool.TaskResult, error) {
	agentConfig, err := e.agentRegistry.Get(agentName)
	if err != nil {
		return nil, fmt.Errorf("agent not found: %s: %w", agentName, err)
	}
	if !agentConfig.IsSubagent() {
		return nil, fmt.Errorf("agent %s cannot be used as subagent (mode: %s)", agentName, agentConfig.Mode)
	}

	providerID, modelID := e.resolveModel(opts.Model)
	prov, err := e.providerRegistry.Get(providerID)
	if err != nil {
		return nil, fmt.Errorf("resolve subagent provider %q: %w", providerID, err)
	}

	systemPrompt := agentConfig.Prompt
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf("You are the %q subagent. Complete the task and report back concisely.", agentName)
	}

	childID, rt, err := session.CreateSession(e.store, systemPrompt, session.Options{
		Provider:         prov,
		Model:            modelID,
		Tools:            e.toolRegistry,
		ApprovalMode:     tool.AutoApproveSafe,
		ApprovalCallback: denyModifyingCallback,
	})
	if err != nil {
		return nil, fmt.Errorf("create subagent session: %w", err)
	}

	result, err := rt.Turn(ctx, prompt, nil)
	if err != nil {
		return &tool.TaskResult{
			Output:    fmt.Sprintf("Error executing subtask: %s", err.Error()),
			SessionID: childID,
			Error:     err.Error(),
			Metadata:  map[string]any{"parentSessionID": parentSessionID},
		}, nil
	}
	if result.LoopDetected != nil {
		return &tool.TaskResult{
			Output:    fmt.Sprintf("Subtask aborted: %s loop detected", result.LoopDetected.Type),
			SessionID: childID,
			AgentID:   agentName,
			Metadata:  map[string]any{"parentSessionID": parentSessionID, "loopPattern": string(result.LoopDetected.Type)},
		}, nil
	}

	return &tool.TaskResult{
		Output:    strings.TrimSpace(result.FinalText),
		SessionID: childID,
		AgentID:   agentName,
		Metadata:  map[string]any{"parentSessionID": parentSessionID, "iterations": result.Iterations},
	}, nil
}

// resolveModel resolves provider and model IDs from the options, falling
// back to the executor's configured defaults.
func (e *SubagentExecutor) resolveModel(modelOption string) (providerID, modelID string) {
	providerID = e.defaultProviderID
	modelID = e.defaultModelID

	switch modelOption {
	case "sonnet":
		modelID = "claude-sonnet-4-20250514"
	case "opus":
		modelID = "claude-opus-4-20250514"
	case "haiku":
		modelID = "claude-haiku-3-20240307"
	}
	return providerID, modelID
}

// denyModifyingCallback is the subagent's approval callback: safe tools
// are auto-approved by the AutoApproveSafe mode before this is ever
// consulted, so this only sees modifying/dangerous calls, which a
// subagent — nested inside another tool call, with no human attached to
// approve anything — always denies rather than blocking forever.
func denyModifyingCallback(ctx context.Context, toolName string, args json.RawMessage, danger tool.DangerLevel) (tool.Decision, error) {
	return tool.Denied, nil
}
