package chunk

// ResultSchema is the JSON schema every chunk analysis response must satisfy.
// Entities may be bare names or objects.
const ResultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["summary", "analysis"],
  "properties": {
    "summary": {"type": "string", "pattern": "\\S"},
    "analysis": {"type": "string", "pattern": "\\S"},
    "entities": {
      "type": "array",
      "items": {
        "oneOf": [
          {"type": "string"},
          {
            "type": "object",
            "properties": {
              "name": {"type": ["string", "null"]},
              "category": {"type": ["string", "null"]},
              "context": {"type": ["string", "null"]}
            }
          }
        ]
      }
    }
  }
}`
