package config

// configSchema is the JSON Schema the raw configuration document must
// satisfy before decoding.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "sensorstream configuration",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "transport": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "endpoint": {"type": "string"},
        "backoff_ms": {"type": "integer", "minimum": 0}
      }
    },
    "nats": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "url": {"type": "string"},
        "name": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "token": {"type": "string"},
        "max_per_sensor": {"type": "integer", "minimum": 0}
      }
    },
    "history": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "window_size": {"type": "integer", "minimum": 1, "maximum": 100000}
      }
    },
    "scoring": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "scorer": {"type": "string", "enum": ["zscore", "http"]},
        "threshold": {"type": "number", "exclusiveMinimum": 0},
        "url": {"type": "string"},
        "timeout_ms": {"type": "integer", "minimum": 0}
      }
    },
    "http": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "port": {"type": "integer", "minimum": 0, "maximum": 65535}
      }
    },
    "websocket": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "port": {"type": "integer", "minimum": 0, "maximum": 65535},
        "path": {"type": "string", "pattern": "^/"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "port": {"type": "integer", "minimum": 0, "maximum": 65535},
        "path": {"type": "string", "pattern": "^/"}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["text", "json"]}
      }
    }
  }
}`
