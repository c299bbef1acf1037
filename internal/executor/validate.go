package executor

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/teemow/inboxpilot/internal/tools"
)

// schemaCache holds compiled input schemas keyed by their JSON text. A nil
// entry marks a schema that failed to compile.
type schemaCache struct {
	m sync.Map
}

func (c *schemaCache) compile(raw json.RawMessage) *jsonschema.Schema {
	key := string(raw)
	if cached, ok := c.m.Load(key); ok {
		schema, _ := cached.(*jsonschema.Schema)
		return schema
	}

	schema, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		schema = nil
	}
	c.m.Store(key, schema)
	return schema
}

// validateArgs checks args against the tool's input schema. Tools without a
// usable schema accept any arguments.
func (c *schemaCache) validateArgs(d tools.Descriptor, args map[string]any) error {
	if len(d.InputSchema) == 0 {
		return nil
	}
	schema := c.compile(d.InputSchema)
	if schema == nil {
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", tools.ErrInvalidArguments, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%w: decode: %v", tools.ErrInvalidArguments, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", tools.ErrInvalidArguments, err)
	}
	return nil
}
