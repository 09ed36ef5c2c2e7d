package toolproto

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/polisware/polis/pkg/fault"
)

// Compiled schemas are cached by their serialized form. Servers re-send
// identical schemas on every discovery pass, so the cache stays small.
var schemaCache sync.Map

// ValidateParams checks params against a tool's advertised parameter
// schema before any bytes hit the wire. A nil or empty schema validates
// everything. Violations come back as InvalidParameters; a schema the
// server advertised but that does not compile is a ProtocolMismatch.
func ValidateParams(schema map[string]any, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return fault.Wrap(fault.ProtocolMismatch, "tool parameter schema is not serializable", err)
	}

	compiled, err := compileSchema(raw)
	if err != nil {
		return fault.Wrap(fault.ProtocolMismatch, "tool parameter schema does not compile", err)
	}

	// Round-trip so the validator sees plain JSON types regardless of how
	// the caller built the map.
	payload, err := json.Marshal(params)
	if err != nil {
		return fault.Wrap(fault.InvalidParameters, "parameters are not serializable", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fault.Wrap(fault.InvalidParameters, "parameters are not valid JSON", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fault.Wrap(fault.InvalidParameters, "parameters rejected by tool schema", err)
	}
	return nil
}

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
