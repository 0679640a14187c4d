package bridge

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed message.schema.json
var messageSchemaJSON []byte

const messageSchemaURL = "renderer-message.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// messageSchema compiles the embedded schema once per process.
func messageSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(messageSchemaURL, bytes.NewReader(messageSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to load message schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(messageSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile message schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// validateMessage checks a generically decoded message against the schema.
func validateMessage(doc any) error {
	schema, err := messageSchema()
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
