package outline

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseError reports a contract violation in the model's outline output.
// It is fatal for the architecture phase; the user regenerates instead.
type ParseError struct {
	Stage string // "extract", "decode", "schema", "content"
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("architecture parse failed (%s): %s: %v", e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("architecture parse failed (%s): %s", e.Stage, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	compileSchemaOnce sync.Once
	compiledSchema    *jsonschema.Schema
	compileSchemaErr  error
)

func outlineSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("architecture.json", strings.NewReader(architectureSchema)); err != nil {
			compileSchemaErr = err
			return
		}
		compiledSchema, compileSchemaErr = compiler.Compile("architecture.json")
	})
	return compiledSchema, compileSchemaErr
}

// Parse turns raw model output into an Architecture. The input is untrusted:
// models wrap JSON in markdown fences or surrounding prose, so the parser
// tries the raw text, a fence-stripped form, and the outermost JSON object
// before giving up. The candidate is schema-validated before decoding.
func Parse(raw string, targetPages int) (*Architecture, error) {
	candidate, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, &ParseError{Stage: "decode", Msg: "extracted candidate is not valid JSON", Err: err}
	}

	schema, err := outlineSchema()
	if err != nil {
		return nil, &ParseError{Stage: "schema", Msg: "schema compilation failed", Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ParseError{Stage: "schema", Msg: "outline does not match contract", Err: err}
	}

	var arch Architecture
	if err := json.Unmarshal([]byte(candidate), &arch); err != nil {
		return nil, &ParseError{Stage: "decode", Msg: "outline does not decode", Err: err}
	}

	if len(arch.Chapters) == 0 {
		return nil, &ParseError{Stage: "content", Msg: "outline has no chapters"}
	}
	if targetPages > 0 {
		arch.TargetPageTotal = targetPages
	}
	arch.normalize()
	return &arch, nil
}

// extractJSON locates the outline JSON object inside untrusted model output.
func extractJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ParseError{Stage: "extract", Msg: "empty model output"}
	}

	candidates := []string{trimmed}
	if stripped := stripCodeFences(trimmed); stripped != "" {
		candidates = append(candidates, stripped)
	}
	for _, c := range candidates {
		if outer := outermostObject(c); outer != "" {
			candidates = append(candidates, outer)
		}
	}

	for _, c := range candidates {
		if json.Valid([]byte(c)) && strings.HasPrefix(c, "{") {
			return c, nil
		}
	}
	return "", &ParseError{Stage: "extract", Msg: "no JSON object found in model output"}
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func outermostObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}
