package sim

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var catalogSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("catalog.schema.json", catalogSchemaJSON)
})

func validateCatalogSchema(raw any) error {
	sch, err := catalogSchema()
	if err != nil {
		return err
	}
	doc, err := toJSONValue(raw)
	if err != nil {
		return err
	}
	return sch.Validate(doc)
}

const catalogSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["models", "gpus", "networks", "user_names", "user_avatars", "prompts"],
  "properties": {
    "models": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name", "vram_required_gb", "tp_size", "tokens_per_sec", "cost_per_1k_tokens"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "param_size": {"type": "string"},
          "vram_required_gb": {"type": "number", "minimum": 0},
          "tp_size": {"type": "integer", "minimum": 1},
          "tokens_per_sec": {"type": "number", "exclusiveMinimum": 0},
          "cost_per_1k_tokens": {"type": "number", "minimum": 0},
          "description": {"type": "string"}
        }
      }
    },
    "gpus": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["vram_gb", "perf_factor"],
        "properties": {
          "label": {"type": "string"},
          "vram_gb": {"type": "number", "exclusiveMinimum": 0},
          "perf_factor": {"type": "number", "exclusiveMinimum": 0},
          "mem_bandwidth_gbs": {"type": "number", "minimum": 0}
        }
      }
    },
    "networks": {
      "type": "object",
      "required": ["ETH_10G", "ETH_100G", "IB_400G"],
      "additionalProperties": {
        "type": "object",
        "required": ["bandwidth_gbs", "latency"],
        "properties": {
          "name": {"type": "string"},
          "label": {"type": "string"},
          "bandwidth_gbs": {"type": "number", "exclusiveMinimum": 0},
          "latency": {"type": "number", "exclusiveMinimum": 0}
        }
      }
    },
    "templates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "specs"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "specs": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["count", "gpu_type", "gpus_per_node"],
              "properties": {
                "count": {"type": "integer", "minimum": 1},
                "gpu_type": {"type": "string"},
                "gpus_per_node": {"type": "integer", "minimum": 1}
              }
            }
          }
        }
      }
    },
    "user_names": {"type": "array", "minItems": 1, "items": {"type": "string"}},
    "user_avatars": {"type": "array", "minItems": 1, "items": {"type": "string"}},
    "prompts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["text", "tokens"],
        "properties": {
          "text": {"type": "string"},
          "tokens": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`
