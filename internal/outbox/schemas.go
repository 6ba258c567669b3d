package outbox

const activityCreatedSchema = `{
  "type": "object",
  "title": "ActivityCreated",
  "properties": {
    "activity_id": {"type": "string"},
    "name": {"type": "string"},
    "slug": {"type": "string"},
    "start_at": {"type": "string", "format": "date-time"},
    "end_at": {"type": "string", "format": "date-time"},
    "supported_languages": {"type": "array", "items": {"type": "string"}},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "name", "slug", "start_at", "end_at", "supported_languages", "occurred_at"],
  "additionalProperties": false
}`

const activityUpdatedSchema = `{
  "type": "object",
  "title": "ActivityUpdated",
  "properties": {
    "activity_id": {"type": "string"},
    "slug": {"type": "string"},
    "supported_languages": {"type": "array", "items": {"type": "string"}},
    "content_languages": {"type": "array", "items": {"type": "string"}},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "slug", "supported_languages", "content_languages", "occurred_at"],
  "additionalProperties": false
}`
