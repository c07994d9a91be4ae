package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/novella/internal/knowledge"
	"github.com/jackzampolin/novella/internal/prompts/chunk"
)

// ErrMalformedResponse marks a response that could not be turned into a
// chunk result, even after repair.
var ErrMalformedResponse = errors.New("malformed analysis response")

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```$")

var resultSchema = mustCompileSchema(chunk.ResultSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("chunk-result.json", strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("load chunk result schema: %v", err))
	}
	return compiler.MustCompile("chunk-result.json")
}

// ParseResult turns a raw model response into a Result. It tolerates
// markdown code fences and prose around the JSON object, and repairs raw
// control characters inside string literals before giving up.
func ParseResult(raw string) (*Result, error) {
	body := extractJSONObject(stripFences(raw))
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}

	doc, repaired, err := decodeLenient(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := resultSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: missing or empty summary/analysis: %v", ErrMalformedResponse, err)
	}

	var wire struct {
		Summary  string            `json:"summary"`
		Analysis string            `json:"analysis"`
		Entities []json.RawMessage `json:"entities"`
	}
	text := body
	if repaired {
		text = repairControlChars(body)
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	res := &Result{
		Summary:  strings.TrimSpace(wire.Summary),
		Analysis: strings.TrimSpace(wire.Analysis),
		Repaired: repaired,
	}
	for _, rawEntity := range wire.Entities {
		if e, ok := decodeEntity(rawEntity); ok {
			res.Entities = append(res.Entities, e)
		}
	}
	return res, nil
}

func decodeLenient(body string) (any, bool, error) {
	var doc any
	err := json.Unmarshal([]byte(body), &doc)
	if err == nil {
		return doc, false, nil
	}
	fixed := repairControlChars(body)
	if fixed == body {
		return nil, false, err
	}
	if err2 := json.Unmarshal([]byte(fixed), &doc); err2 != nil {
		return nil, false, fmt.Errorf("%v (after repair: %v)", err, err2)
	}
	return doc, true, nil
}

func decodeEntity(raw json.RawMessage) (knowledge.Entity, bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return knowledge.Entity{Name: name}, strings.TrimSpace(name) != ""
	}
	var obj struct {
		Name     *string `json:"name"`
		Category *string `json:"category"`
		Context  *string `json:"context"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Name == nil {
		return knowledge.Entity{}, false
	}
	e := knowledge.Entity{Name: *obj.Name}
	if obj.Category != nil {
		e.Category = *obj.Category
	}
	if obj.Context != nil {
		e.Context = *obj.Context
	}
	return e, strings.TrimSpace(e.Name) != ""
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// extractJSONObject returns the outermost {...} span of s.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// repairControlChars escapes raw newlines, carriage returns and tabs that
// appear inside string literals. A quote opens or closes a string only when
// preceded by an even number of backslashes.
func repairControlChars(s string) string {
	var b bytes.Buffer
	b.Grow(len(s) + 16)
	inString := false
	backslashes := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			backslashes++
			b.WriteByte(c)
			continue
		case c == '"' && backslashes%2 == 0:
			inString = !inString
			b.WriteByte(c)
		case inString && c == '\n':
			b.WriteString(`\n`)
		case inString && c == '\r':
			b.WriteString(`\r`)
		case inString && c == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
		backslashes = 0
	}
	return b.String()
}
