package resource

const modeSchema = `{
  "type": "object",
  "properties": {
    "mode": {"enum": ["sleep", "idle", "espresso", "steam", "hot_water", "flush"]}
  },
  "required": ["mode"],
  "additionalProperties": false
}`

const fanThresholdSchema = `{
  "type": "object",
  "properties": {
    "threshold": {"type": "integer", "minimum": 0, "maximum": 60}
  },
  "required": ["threshold"],
  "additionalProperties": false
}`

const tankTemperatureSchema = `{
  "type": "object",
  "properties": {
    "temperature": {"type": "number", "minimum": 0, "maximum": 45}
  },
  "required": ["temperature"],
  "additionalProperties": false
}`

const controlSchema = `{
  "type": "object",
  "properties": {
    "stop_at_time": {"type": ["number", "null"], "minimum": 0},
    "stop_at_volume": {"type": ["number", "null"], "minimum": 0},
    "stop_at_weight": {"type": ["number", "null"], "minimum": 0},
    "first_drops_threshold": {"type": ["number", "null"], "minimum": 0}
  },
  "minProperties": 1,
  "additionalProperties": false
}`

const tareSchema = `{
  "type": "object",
  "properties": {
    "tare": {"const": true}
  },
  "required": ["tare"],
  "additionalProperties": false
}`

const connectivitySchema = `{
  "type": "object",
  "properties": {
    "de1": {"enum": ["connect", "disconnect"]},
    "scale": {"enum": ["connect", "disconnect"]}
  },
  "minProperties": 1,
  "additionalProperties": false
}`
