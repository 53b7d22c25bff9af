package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/opencode-ai/opencode/internal/ollmerr"
)

// schemaCache avoids recompiling a tool's JSON Schema on every call,
// matching the compile-once-cache-forever pattern for schemas that never
// change after a tool is registered.
var schemaCache sync.Map

func compileSchema(id string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(id); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString(id+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(id, compiled)
	return compiled, nil
}

// ValidateArgs validates a tool call's raw JSON arguments against that
// tool's declared Parameters() schema before it is ever handed to
// Execute, per C3's responsibility to reject malformed arguments up
// front rather than let each tool re-implement its own checks.
func ValidateArgs(t Tool, args json.RawMessage) error {
	schema, err := compileSchema(t.ID(), t.Parameters())
	if err != nil {
		return ollmerr.Wrap(ollmerr.ToolInternal, fmt.Sprintf("tool %s has an invalid parameter schema", t.ID()), err)
	}

	var decoded any
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return ollmerr.Wrap(ollmerr.ToolBadArgs, fmt.Sprintf("tool %s received malformed JSON arguments", t.ID()), err)
	}

	if err := schema.Validate(decoded); err != nil {
		return ollmerr.Wrap(ollmerr.ToolBadArgs, fmt.Sprintf("tool %s arguments failed validation", t.ID()), err)
	}
	return nil
}
