package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/contagion/internal/engine"
)

// ParametersSchema describes the initialize body. Only types and the four
// required fields are checked; value ranges are the caller's business.
const ParametersSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["population", "infection_rate", "recovery_time", "mortality_rate"],
  "properties": {
    "population":              {"type": "integer"},
    "infection_rate":          {"type": "number"},
    "recovery_time":           {"type": "integer"},
    "mortality_rate":          {"type": "number"},
    "social_distance":         {"type": "number"},
    "movement_speed":          {"type": "number"},
    "social_activity":         {"type": "number"},
    "immunity_variation":      {"type": "number"},
    "infection_radius":        {"type": "number"},
    "viral_load_threshold":    {"type": "number"},
    "recovery_immunity_boost": {"type": "number"},
    "mask_usage":              {"type": "number"},
    "vaccination_rate":        {"type": "number"}
  }
}`

// StateSchema describes the snapshot wire shape.
const StateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "counts": {
      "type": "object",
      "required": ["S", "I", "R", "D"],
      "additionalProperties": false,
      "properties": {
        "S": {"type": "integer", "minimum": 0},
        "I": {"type": "integer", "minimum": 0},
        "R": {"type": "integer", "minimum": 0},
        "D": {"type": "integer", "minimum": 0}
      }
    },
    "series": {"type": "array", "items": {"type": "integer", "minimum": 0}},
    "agent": {
      "type": "object",
      "required": ["id", "x", "y", "state", "immunity", "viral_load"],
      "additionalProperties": false,
      "properties": {
        "id":            {"type": "integer", "minimum": 0},
        "x":             {"type": "number", "minimum": 0, "maximum": 800},
        "y":             {"type": "number", "minimum": 0, "maximum": 600},
        "state":         {"enum": ["S", "I", "R", "D"]},
        "days_infected": {"type": "integer", "minimum": 0},
        "immunity":      {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
        "viral_load":    {"type": "number"}
      },
      "if": {"properties": {"state": {"const": "I"}}},
      "then": {"required": ["days_infected"]},
      "else": {"not": {"required": ["days_infected"]}}
    }
  },
  "type": "object",
  "required": ["agents", "stats", "day", "history"],
  "additionalProperties": false,
  "properties": {
    "agents": {"type": "array", "items": {"$ref": "#/$defs/agent"}},
    "stats": {"$ref": "#/$defs/counts"},
    "day": {"type": "integer", "minimum": 0},
    "history": {
      "type": "object",
      "required": ["S", "I", "R", "D"],
      "additionalProperties": false,
      "properties": {
        "S": {"$ref": "#/$defs/series"},
        "I": {"$ref": "#/$defs/series"},
        "R": {"$ref": "#/$defs/series"},
        "D": {"$ref": "#/$defs/series"}
      }
    }
  }
}`

var (
	parametersSchema = jsonschema.MustCompileString("https://contagion.local/schemas/parameters.json", ParametersSchema)
	stateSchema      = jsonschema.MustCompileString("https://contagion.local/schemas/state.json", StateSchema)
)

// decodeParameters validates a raw initialize body and decodes it over the
// defaults, so omitted optional fields keep their default values.
func decodeParameters(body []byte) (engine.Parameters, error) {
	p := engine.DefaultParameters()

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return p, fmt.Errorf("invalid json: %w", err)
	}
	if err := parametersSchema.Validate(doc); err != nil {
		return p, fmt.Errorf("invalid parameters: %w", err)
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("decode parameters: %w", err)
	}
	return p, nil
}

// ValidateState checks an encoded snapshot against StateSchema.
func ValidateState(data []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return stateSchema.Validate(doc)
}
