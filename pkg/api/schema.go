package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/helm-recovery/pkg/fault"
)

// maxBodyBytes bounds request bodies accepted by DecodeJSON.
const maxBodyBytes = 64 << 10

// Schema is a compiled JSON Schema for one request body.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a Draft 2020-12 schema document.
func CompileSchema(name, doc string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://helm-recovery.local/schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schema literals.
func MustCompileSchema(name, doc string) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fault.Validation("malformed JSON body: %v", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fault.Validation("%s: %v", s.name, err)
	}
	return nil
}

// DecodeJSON reads the request body, validates it against schema when one is
// given, and unmarshals it into v. Failures wrap fault.ErrValidation.
func DecodeJSON(r *http.Request, schema *Schema, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fault.Validation("read body: %v", err)
	}
	if len(raw) > maxBodyBytes {
		return fault.Validation("request body exceeds %d bytes", maxBodyBytes)
	}
	if schema != nil {
		if err := schema.Validate(raw); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fault.Validation("malformed JSON body: %v", err)
	}
	return nil
}
