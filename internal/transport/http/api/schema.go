package apihttp

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const createRuleSchema = `{
  "type": "object",
  "required": ["ticket", "symbol", "direction", "entry_price", "initial_sl", "initial_tp", "config"],
  "additionalProperties": false,
  "properties": {
    "ticket": {"type": "integer", "minimum": 1},
    "symbol": {"type": "string", "minLength": 1},
    "direction": {"type": "string", "enum": ["BUY", "SELL", "buy", "sell", "long", "short"]},
    "entry_price": {"type": "number", "exclusiveMinimum": 0},
    "initial_sl": {"type": "number", "exclusiveMinimum": 0},
    "initial_tp": {"type": "number", "exclusiveMinimum": 0},
    "config": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "breakeven_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
        "partial_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
        "partial_close_pct": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 100},
        "vix_threshold": {"type": "number", "minimum": 0},
        "hybrid_base_multiplier": {"type": "number", "exclusiveMinimum": 0},
        "trailing_enabled": {"type": "boolean"},
        "trailing_multiplier": {"type": "number", "exclusiveMinimum": 0},
        "fallback_trailing_multiplier": {"type": "number", "exclusiveMinimum": 0},
        "min_sl_change_pct": {"type": "number", "minimum": 0, "exclusiveMaximum": 100},
        "min_volume": {"type": "number", "exclusiveMinimum": 0},
        "volume_step": {"type": "number", "exclusiveMinimum": 0},
        "atr_timeframe": {"type": "string"},
        "symbol_class": {"type": "string"}
      }
    }
  }
}`

func compileRuleSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("create_rule.json", strings.NewReader(createRuleSchema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("create_rule.json")
}
