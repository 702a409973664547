package api

const appendTransactionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["type", "quantity", "created_by"],
  "properties": {
    "type": {"type": "string", "enum": ["ISSUANCE", "TRANSFER", "CANCELLATION", "CONVERSION", "SPLIT"]},
    "from_shareholder_id": {"type": "string"},
    "to_shareholder_id": {"type": "string"},
    "share_class_id": {"type": "string"},
    "source_share_class_id": {"type": "string"},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "source_quantity": {"type": "number", "minimum": 0},
    "price_per_share": {"type": "number", "minimum": 0},
    "created_by": {"type": "string", "minLength": 1, "maxLength": 255}
  }
}`

const transitionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["status", "actor"],
  "properties": {
    "status": {"type": "string", "enum": ["PENDING_APPROVAL", "SUBMITTED", "CONFIRMED", "FAILED", "CANCELLED"]},
    "actor": {"type": "string", "minLength": 1, "maxLength": 255}
  }
}`

const exportSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["format"],
  "properties": {
    "format": {"type": "string", "enum": ["pdf", "xlsx", "csv", "oct"]}
  }
}`

const snapshotSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "trigger": {"type": "string", "enum": ["MANUAL", "SCHEDULED", "TRANSACTION"]}
  }
}`

const shareholderSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["legal_name", "email", "tax_id"],
  "properties": {
    "legal_name": {"type": "string", "minLength": 1, "maxLength": 255},
    "email": {"type": "string", "minLength": 3, "maxLength": 255},
    "tax_id": {"type": "string", "minLength": 8, "maxLength": 32},
    "actor": {"type": "string", "maxLength": 255}
  }
}`
