package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedOutput is returned when model output is not valid JSON or does
// not match the expected schema.
var ErrMalformedOutput = errors.New("malformed model output")

// CompileSchema compiles a JSON schema document registered under name.
func CompileSchema(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// DecodeJSON strips code fences from raw, validates it against schema and
// unmarshals it into v.
func DecodeJSON(schema *jsonschema.Schema, raw string, v any) error {
	body := []byte(StripFences(raw))
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}
