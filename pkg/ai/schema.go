package ai

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const analysisSchemaJSON = `{
  "type": "object",
  "required": ["summary", "score"],
  "properties": {
    "summary": {"type": "string"},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "weaknesses": {"type": "array", "items": {"type": "string"}},
    "errors": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["line", "message"],
        "properties": {
          "line": {"type": "integer", "minimum": 1},
          "message": {"type": "string"}
        }
      }
    },
    "score": {"type": "number"}
  }
}`

const gradingSchemaJSON = `{
  "type": "object",
  "required": ["grade", "feedback"],
  "properties": {
    "grade": {"type": "number"},
    "feedback": {"type": "string", "minLength": 1}
  }
}`

var (
	analysisSchema = jsonschema.MustCompileString("file_analysis.json", analysisSchemaJSON)
	gradingSchema  = jsonschema.MustCompileString("grading_result.json", gradingSchemaJSON)
)
