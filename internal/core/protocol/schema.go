package protocol

const envelopeSchemaURL = "https://zeusync.dev/schemas/islandsync/envelope.json"

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event", "payload"],
  "properties": {
    "event": {"type": "string", "minLength": 1},
    "payload": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"event": {"enum": ["globals", "update_globals"]}}},
      "then": {
        "properties": {
          "payload": {
            "properties": {"__version": {"type": "integer"}}
          }
        }
      }
    },
    {
      "if": {"properties": {"event": {"const": "p"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["id"],
            "properties": {"id": {"type": "string", "minLength": 1}}
          }
        }
      }
    },
    {
      "if": {"properties": {"event": {"const": "stream"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["id", "stream", "action"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "stream": {"type": "string", "minLength": 1},
              "action": {"enum": ["insert", "update", "delete", "reset"]},
              "item": {"type": "object"},
              "item_id": {"type": ["string", "number"]}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"event": {"const": "stream_init"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["id", "stream", "items"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "stream": {"type": "string", "minLength": 1},
              "items": {"type": "array", "items": {"type": "object"}}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"event": {"const": "form_ack"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["id", "form", "version"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "form": {"type": "string", "minLength": 1},
              "values": {"type": "object"},
              "errors": {
                "type": "object",
                "additionalProperties": {"type": "array", "items": {"type": "string"}}
              },
              "is_valid": {"type": "boolean"},
              "version": {"type": "integer", "minimum": 0}
            }
          }
        }
      }
    }
  ]
}`
