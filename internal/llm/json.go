package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// UnwrapJSON strips markdown code fences around a model response.
// Unfenced text is returned trimmed, with stray backticks and a leading
// "json" label removed.
func UnwrapJSON(s string) string {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
	s = strings.Trim(s, "`")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	return strings.TrimSpace(s)
}

// decodeObject unwraps raw, validates it against schema and decodes it into out.
func decodeObject(op, raw string, schema *jsonschema.Schema, out any) error {
	body := UnwrapJSON(raw)
	if body == "" {
		return &Error{Op: op, Kind: KindEmpty, Err: fmt.Errorf("empty response")}
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &Error{Op: op, Kind: KindDecode, Err: err}
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return &Error{Op: op, Kind: KindSchema, Err: err}
		}
	}
	if err := json.NewDecoder(bytes.NewReader([]byte(body))).Decode(out); err != nil {
		return &Error{Op: op, Kind: KindSchema, Err: err}
	}
	return nil
}
