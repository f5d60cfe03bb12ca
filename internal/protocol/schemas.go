package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var inboundSchemaFiles = map[string]string{
	TypeHello:    "hello.schema.json",
	TypeAddEvent: "add_event.schema.json",
	TypeQuery:    "query.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	out := make(map[string]*jsonschema.Schema, len(inboundSchemaFiles))
	for typ, name := range inboundSchemaFiles {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
			schemasErr = fmt.Errorf("%s: %w", name, err)
			return
		}
		s, err := c.Compile(name)
		if err != nil {
			schemasErr = fmt.Errorf("%s: %w", name, err)
			return
		}
		out[typ] = s
	}
	schemas = out
}

// ValidateInbound checks a raw client message against the schema for msgType.
// Types without a schema pass.
func ValidateInbound(msgType string, raw []byte) error {
	schemasOnce.Do(compileSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[msgType]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
