package driver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// bookSchema validates the payload under the "book" key of a completed book
// extraction.
var bookSchema = jsonschema.MustCompileString("book.json", `{
	"type": "object",
	"required": ["isbn", "name", "published_at"],
	"properties": {
		"isbn": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"rating": {"type": "number", "minimum": 0, "maximum": 5},
		"published_at": {"type": "string", "minLength": 1}
	}
}`)

// authorSchema validates the payload under the "author" key of a completed
// author extraction.
var authorSchema = jsonschema.MustCompileString("author.json", `{
	"type": "object",
	"required": ["pen_name"],
	"properties": {
		"pen_name": {"type": "string", "minLength": 1},
		"bio": {"type": "string"},
		"is_verified": {"type": "boolean"}
	}
}`)

// extractPayload pulls the named object out of the assistant's final reply
// and validates it. Models occasionally wrap JSON in markdown fences or
// surrounding prose, so a couple of recovery passes run before giving up.
// Every failure mode is an *UnstableError.
func extractPayload(reply, field string, schema *jsonschema.Schema) (json.RawMessage, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, &UnstableError{Reason: "empty assistant reply"}
	}

	candidates := []string{reply}
	if stripped := stripCodeFences(reply); stripped != "" && stripped != reply {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(reply); extracted != "" && extracted != reply {
		candidates = append(candidates, extracted)
	}

	var parsed map[string]json.RawMessage
	found := false
	for _, candidate := range candidates {
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			found = true
			break
		}
	}
	if !found {
		return nil, &UnstableError{Reason: "assistant reply is not valid JSON"}
	}

	raw, ok := parsed[field]
	if !ok {
		return nil, &UnstableError{Reason: fmt.Sprintf("assistant reply has no %q key", field)}
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &UnstableError{Reason: fmt.Sprintf("%q payload is not valid JSON", field), Err: err}
	}
	if err := schema.Validate(payload); err != nil {
		return nil, &UnstableError{Reason: fmt.Sprintf("%q payload failed schema validation", field), Err: err}
	}

	return raw, nil
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(trimmed, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}
