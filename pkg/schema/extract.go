package schema

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// extractPayload isolates the single JSON value of the expected kind in text.
//
// One line of commentary before the value and one after it are tolerated,
// as is a markdown code fence around it. Prose inside the value, a second
// JSON value, more commentary, or a value of the wrong kind are rejected.
func extractPayload(text, payload string, open byte) (json.RawMessage, *SchemaError) {
	if !utf8.ValidString(text) {
		return nil, newError(payload, -1, "", "response is not valid UTF-8")
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, newError(payload, -1, "", "response contains no JSON value")
	}
	if text[start] != open {
		return nil, newError(payload, -1, "", "expected a JSON "+kindName(open)+" but found a JSON "+kindName(text[start]))
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, &SchemaError{Payload: payload, Index: -1, Reason: "response is not valid JSON", Err: err}
	}

	rest := text[start+int(dec.InputOffset()):]
	if containsJSONValue(rest) {
		return nil, newError(payload, -1, "", "response contains more than one JSON value")
	}
	if commentaryLines(text[:start]) > 1 {
		return nil, newError(payload, -1, "", "response has more than one line of text before the JSON value")
	}
	if commentaryLines(rest) > 1 {
		return nil, newError(payload, -1, "", "response has more than one line of text after the JSON value")
	}
	return raw, nil
}

// commentaryLines counts the non-blank lines of s that are not code fences.
func commentaryLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		n++
	}
	return n
}

// containsJSONValue reports whether an object or array decodes from any
// opening bracket in s.
func containsJSONValue(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		var v json.RawMessage
		if json.NewDecoder(strings.NewReader(s[i:])).Decode(&v) == nil {
			return true
		}
	}
	return false
}

func kindName(b byte) string {
	if b == '[' {
		return "array"
	}
	return "object"
}

// decodeObject decodes raw into a field map, rejecting anything but an object.
func decodeObject(raw json.RawMessage, payload string, index int) (map[string]json.RawMessage, *SchemaError) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, newError(payload, index, "", "expected a JSON object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &SchemaError{Payload: payload, Index: index, Reason: "invalid object", Err: err}
	}
	return fields, nil
}

// field decodes a required field into dst.
func field(fields map[string]json.RawMessage, name, payload string, index int, dst interface{}) *SchemaError {
	raw, ok := fields[name]
	if !ok {
		return newError(payload, index, name, "missing required field")
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return newError(payload, index, name, "field must not be null")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &SchemaError{Payload: payload, Index: index, Field: name, Reason: "wrong type", Err: err}
	}
	return nil
}
