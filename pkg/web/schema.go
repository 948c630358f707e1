package web

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// submitExecutionSchema guards the submit payload shape before it is decoded
// into typed structs, so malformed pipelines fail with a field-level message
// instead of a decode error.
const submitExecutionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["application", "stages"],
  "properties": {
    "application": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "pipelineConfigId": {"type": "string"},
    "limitConcurrent": {"type": "boolean"},
    "context": {"type": "object"},
    "trigger": {"type": "object"},
    "startTimeExpiry": {"type": "string", "format": "date-time"},
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["refId", "type"],
        "properties": {
          "refId": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "requisiteStageRefIds": {"type": "array", "items": {"type": "string"}},
          "context": {"type": "object"}
        }
      }
    }
  }
}`

var compiledSubmitSchema = gojsonschema.NewStringLoader(submitExecutionSchema)

// validateSubmitPayload checks the raw request body against the schema and
// returns a human-readable description of every violation.
func validateSubmitPayload(body []byte) error {
	result, err := gojsonschema.Validate(compiledSubmitSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("failed to validate pipeline payload: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		details = append(details, violation.String())
	}

	return fmt.Errorf("invalid pipeline payload: %s", strings.Join(details, "; "))
}
