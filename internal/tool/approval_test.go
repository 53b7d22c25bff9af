package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_YOLOneverPrompts(t *testing.T) {
	p := NewPolicy(YOLO)
	called := false
	cb := func(ctx context.Context, name string, args json.RawMessage, danger DangerLevel) (Decision, error) {
		called = true
		return Denied, nil
	}
	err := p.Decide(context.Background(), "bash", nil, Dangerous, cb)
	require.NoError(t, err)
	assert.False(t, called, "yolo mode must never invoke the approval callback")
}

func TestPolicy_AlwaysAskPromptsEvenForSafeCalls(t *testing.T) {
	p := NewPolicy(AlwaysAsk)
	called := false
	cb := func(ctx context.Context, name string, args json.RawMessage, danger DangerLevel) (Decision, error) {
		called = true
		return Approved, nil
	}
	err := p.Decide(context.Background(), "read", nil, Safe, cb)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestPolicy_AutoApproveSafeSkipsSafeCalls(t *testing.T) {
	p := NewPolicy(AutoApproveSafe)
	called := false
	cb := func(ctx context.Context, name string, args json.RawMessage, danger DangerLevel) (Decision, error) {
		called = true
		return Approved, nil
	}
	err := p.Decide(context.Background(), "read", nil, Safe, cb)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestPolicy_AutoApproveSafePromptsForModifyingAndDangerous(t *testing.T) {
	p := NewPolicy(AutoApproveSafe)
	calls := 0
	cb := func(ctx context.Context, name string, args json.RawMessage, danger DangerLevel) (Decision, error) {
		calls++
		return Approved, nil
	}
	require.NoError(t, p.Decide(context.Background(), "write", nil, Modifying, cb))
	require.NoError(t, p.Decide(context.Background(), "bash", nil, Dangerous, cb))
	assert.Equal(t, 2, calls)
}

func TestPolicy_DeniedDecisionReturnsToolDeniedError(t *testing.T) {
	p := NewPolicy(AlwaysAsk)
	cb := func(ctx context.Context, name string, args json.RawMessage, danger DangerLevel) (Decision, error) {
		return Denied, nil
	}
	err := p.Decide(context.Background(), "bash", nil, Dangerous, cb)
	require.Error(t, err)
}

func TestPolicy_ApprovedAlwaysForToolSkipsFutureCalls(t *testing.T) {
	p := NewPolicy(AlwaysAsk)
	calls := 0
	cb := func(ctx context.Context, name string, args json.RawMessage, danger DangerLevel) (Decision, error) {
		calls++
		return ApprovedAlwaysForTool, nil
	}
	require.NoError(t, p.Decide(context.Background(), "bash", nil, Dangerous, cb))
	require.NoError(t, p.Decide(context.Background(), "bash", nil, Dangerous, cb))
	assert.Equal(t, 1, calls, "second call should be auto-approved without invoking the callback again")
}

func TestPolicy_MissingCallbackDeniesWhenApprovalNeeded(t *testing.T) {
	p := NewPolicy(AlwaysAsk)
	err := p.Decide(context.Background(), "bash", nil, Dangerous, nil)
	require.Error(t, err)
}
