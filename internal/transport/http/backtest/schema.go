package backtesthttp

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// runRequestSchema 约束 POST /api/backtest/runs 的请求体。
const runRequestSchema = `{
  "type": "object",
  "required": ["instrument", "start_ts", "end_ts"],
  "additionalProperties": false,
  "properties": {
    "instrument":      {"type": "string", "minLength": 1, "maxLength": 32},
    "timeframe":       {"type": "string", "pattern": "^[0-9]+[mhdwMHDW]$"},
    "strategies":      {"type": "array", "items": {"type": "string", "minLength": 1}, "uniqueItems": true},
    "start_ts":        {"type": "integer", "minimum": 1},
    "end_ts":          {"type": "integer", "minimum": 1},
    "initial_balance": {"type": "number", "exclusiveMinimum": 0},
    "slippage":        {"type": "number", "minimum": 0, "maximum": 0.1},
    "commission":      {"type": "number", "minimum": 0, "maximum": 0.1},
    "latency_ms":      {"type": "integer", "minimum": 0},
    "warmup":          {"type": "integer", "minimum": 0},
    "window":          {"type": "integer", "minimum": 0},
    "notes":           {"type": "string", "maxLength": 512}
  }
}`

func compileSchema(name, doc string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}
