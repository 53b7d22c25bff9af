package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArgs_RejectsMissingRequiredField(t *testing.T) {
	tool := NewBashTool("/tmp")
	err := ValidateArgs(tool, json.RawMessage(`{"description": "no command field"}`))
	require.Error(t, err)
}

func TestValidateArgs_AcceptsWellFormedArgs(t *testing.T) {
	tool := NewBashTool("/tmp")
	err := ValidateArgs(tool, json.RawMessage(`{"command": "echo hi", "description": "say hi"}`))
	assert.NoError(t, err)
}

func TestDispatch_PreservesCallOrder(t *testing.T) {
	registry := NewRegistry("/tmp", nil)
	registry.Register(NewBashTool("/tmp"))

	calls := make([]Call, 5)
	for i := range calls {
		calls[i] = Call{
			ID:   "call",
			Name: "bash",
			Args: json.RawMessage(`{"command": "echo hi", "description": "say hi"}`),
			Ctx:  testContext(),
		}
	}

	d := NewDispatcher(2)
	results := d.Dispatch(context.Background(), registry, calls)
	require.Len(t, results, len(calls))
	for i, r := range results {
		assert.Equal(t, calls[i].ID, r.Call.ID)
		assert.NoError(t, r.Err)
	}
}

func TestDispatch_UnknownToolDoesNotBlockSiblings(t *testing.T) {
	registry := NewRegistry("/tmp", nil)
	registry.Register(NewBashTool("/tmp"))

	calls := []Call{
		{ID: "a", Name: "does-not-exist", Args: json.RawMessage(`{}`), Ctx: testContext()},
		{ID: "b", Name: "bash", Args: json.RawMessage(`{"command": "echo hi", "description": "d"}`), Ctx: testContext()},
	}

	d := NewDispatcher(4)
	results := d.Dispatch(context.Background(), registry, calls)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}
