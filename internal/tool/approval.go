package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opencode-ai/opencode/internal/ollmerr"
)

// Mode selects a session's approval policy (spec §4.3).
type Mode string

const (
	AlwaysAsk       Mode = "always-ask"
	AutoApproveSafe Mode = "auto-approve-safe"
	YOLO            Mode = "yolo"
)

// Decision is an approval callback's verdict on one tool call.
type Decision string

const (
	Approved              Decision = "approved"
	Denied                Decision = "denied"
	ApprovedAlwaysForTool Decision = "approved-always-for-tool"
)

// ApprovalCallback is spec §6's caller-supplied "request_approval"
// operation: it decides whether a modifying/dangerous tool call may run.
// The core never renders UI; this is provided by the embedding CLI/TUI.
type ApprovalCallback func(ctx context.Context, toolName string, args json.RawMessage, danger DangerLevel) (Decision, error)

// Policy implements C3's approval policy (spec §4.3), grounded on
// internal/permission.Checker's approved-map shape but generalized to the
// three named modes and the tool-contract danger flag instead of
// permission.PermissionType's fixed enumeration (bash/edit/webfetch/...).
type Policy struct {
	mu       sync.Mutex
	mode     Mode
	approved map[string]bool // toolName -> approved-always-for-tool
}

// NewPolicy creates a Policy in the given mode.
func NewPolicy(mode Mode) *Policy {
	if mode == "" {
		mode = AlwaysAsk
	}
	return &Policy{mode: mode, approved: make(map[string]bool)}
}

// SetMode changes the policy's mode for the remainder of the session.
func (p *Policy) SetMode(mode Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
}

// Mode returns the policy's current mode.
func (p *Policy) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// needsApproval reports whether a call of the given danger level must be
// routed through the approval callback under the policy's current mode.
// "yolo": nothing prompts, not even dangerous tools (spec's one named
// exception: "dangerous tools always prompt in every mode except yolo").
// "always-ask": every call prompts, regardless of danger.
// "auto-approve-safe": only non-safe calls prompt.
func (p *Policy) needsApproval(danger DangerLevel) bool {
	switch p.mode {
	case YOLO:
		return false
	case AutoApproveSafe:
		return danger != Safe
	default: // AlwaysAsk
		return true
	}
}

// Decide runs a tool call through the approval policy. It returns nil if
// the call may proceed (no approval needed, already approved-always for
// this tool, or the callback approved it), or an *ollmerr.Error wrapping
// ollmerr.ToolDenied if the callback denied it.
func (p *Policy) Decide(ctx context.Context, toolName string, args json.RawMessage, danger DangerLevel, callback ApprovalCallback) error {
	p.mu.Lock()
	mode := p.mode
	alreadyApproved := p.approved[toolName]
	p.mu.Unlock()

	if mode == YOLO {
		return nil
	}
	if alreadyApproved {
		return nil
	}
	if !p.needsApproval(danger) {
		return nil
	}
	if callback == nil {
		return ollmerr.Wrap(ollmerr.ToolDenied, fmt.Sprintf("tool %s requires approval but no callback was provided", toolName), nil)
	}

	decision, err := callback(ctx, toolName, args, danger)
	if err != nil {
		return ollmerr.Wrap(ollmerr.ToolDenied, fmt.Sprintf("approval callback failed for tool %s", toolName), err)
	}

	switch decision {
	case Approved:
		return nil
	case ApprovedAlwaysForTool:
		p.mu.Lock()
		p.approved[toolName] = true
		p.mu.Unlock()
		return nil
	default:
		return ollmerr.Wrap(ollmerr.ToolDenied, fmt.Sprintf("tool %s call was denied", toolName), nil)
	}
}
