package outline

// architectureSchema is the contract the model's outline output must satisfy
// before it is decoded. Validation failures are contract violations, not
// network errors, and are never retried.
const architectureSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "target_pages", "chapters"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "target_pages": {"type": "integer", "minimum": 1},
    "chapters": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title", "target_pages"],
        "properties": {
          "number": {"type": "integer"},
          "title": {"type": "string", "minLength": 1},
          "summary": {"type": "string"},
          "target_pages": {"type": "integer", "minimum": 0},
          "characters": {"type": "array", "items": {"type": "string"}},
          "case_studies": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "recurring_characters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "role": {"type": "string"}
        }
      }
    },
    "case_studies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"}
        }
      }
    },
    "special_sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "placement": {"type": "string"}
        }
      }
    }
  }
}`
