package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MalformedOutputError reports a model response that could not be decoded into the expected shape.
type MalformedOutputError struct {
	Stage string
	Raw   string
	Cause error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed %s output: %v", e.Stage, e.Cause)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Cause
}

// CleanJSONBlock strips markdown code fences and surrounding prose from a model reply.
func CleanJSONBlock(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```JSON")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return text
}

// NormalizeEscapes replaces literal escape sequences left behind by double-encoded model output.
func NormalizeEscapes(text string) string {
	replacer := strings.NewReplacer(`\r\n`, "\n", `\n`, "\n", `\t`, "\t", `\"`, `"`)
	return replacer.Replace(text)
}

// ClampScore bounds value to [0, MaxGrade], mapping NaN to zero.
func ClampScore(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > MaxGrade {
		return MaxGrade
	}
	return math.Round(value*100) / 100
}

func decodeValidated(stage, raw string, schema *jsonschema.Schema, target any) error {
	cleaned := CleanJSONBlock(raw)
	if cleaned == "" {
		return &MalformedOutputError{Stage: stage, Raw: raw, Cause: errors.New("empty response")}
	}

	var generic any
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return &MalformedOutputError{Stage: stage, Raw: raw, Cause: err}
	}
	if err := schema.Validate(generic); err != nil {
		return &MalformedOutputError{Stage: stage, Raw: raw, Cause: err}
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return &MalformedOutputError{Stage: stage, Raw: raw, Cause: err}
	}
	return nil
}
