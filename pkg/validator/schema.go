package validator

import "github.com/santhosh-tekuri/jsonschema/v5"

// noteSchema is the closed shape of an IsccNote. It rejects missing or
// mistyped members and empty optionals before the semantic checks run.
const noteSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["iscc_code", "datahash", "nonce", "timestamp", "signature"],
  "additionalProperties": false,
  "properties": {
    "iscc_code": {"type": "string", "minLength": 1, "maxLength": 2048},
    "datahash": {"type": "string", "minLength": 1, "maxLength": 2048},
    "nonce": {"type": "string", "minLength": 1, "maxLength": 2048},
    "timestamp": {"type": "string", "minLength": 1, "maxLength": 2048},
    "gateway": {"type": "string", "minLength": 1, "maxLength": 2048},
    "metahash": {"type": "string", "minLength": 1, "maxLength": 2048},
    "units": {
      "type": "array",
      "minItems": 1,
      "maxItems": 4,
      "items": {"type": "string", "minLength": 1, "maxLength": 2048}
    },
    "signature": {
      "type": "object",
      "required": ["version", "pubkey", "proof"],
      "additionalProperties": false,
      "properties": {
        "version": {"type": "string", "minLength": 1},
        "pubkey": {"type": "string", "minLength": 1, "maxLength": 2048},
        "proof": {"type": "string", "minLength": 1, "maxLength": 2048},
        "controller": {"type": "string", "minLength": 1, "maxLength": 2048},
        "keyid": {"type": "string", "minLength": 1, "maxLength": 2048}
      }
    }
  }
}`

var compiledNoteSchema = jsonschema.MustCompileString("iscc-note.schema.json", noteSchema)
