package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// overrideSchemaJSON constrains per-project policy overrides.
const overrideSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "categories": {
      "type": "object",
      "propertyNames": {
        "enum": ["sexual", "threat", "violence", "hate_speech", "profanity", "spam"]
      },
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "threshold":        {"type": "number", "minimum": 0, "maximum": 1},
          "weight":           {"type": "number", "minimum": 0, "maximum": 1},
          "action_threshold": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "levels": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "low_max":    {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
        "medium_max": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
      }
    }
  }
}`

var (
	overrideSchemaOnce sync.Once
	overrideSchema     *jsonschema.Schema
	overrideSchemaErr  error
)

func compiledOverrideSchema() (*jsonschema.Schema, error) {
	overrideSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(overrideSchemaJSON))
		if err != nil {
			overrideSchemaErr = fmt.Errorf("override schema unmarshal: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("policy_override.json", doc); err != nil {
			overrideSchemaErr = fmt.Errorf("override schema compile: %w", err)
			return
		}
		overrideSchema, overrideSchemaErr = c.Compile("policy_override.json")
	})
	return overrideSchema, overrideSchemaErr
}

// ValidateOverrideJSON checks raw JSON against the override schema and, on
// success, decodes it. A null or empty document yields an empty override.
func ValidateOverrideJSON(raw []byte) (*PolicyOverride, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &PolicyOverride{}, nil
	}

	sch, err := compiledOverrideSchema()
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("policy override is not valid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("policy override schema validation failed: %w", err)
	}

	var o PolicyOverride
	if err := json.Unmarshal(trimmed, &o); err != nil {
		return nil, fmt.Errorf("policy override decode: %w", err)
	}
	return &o, nil
}
