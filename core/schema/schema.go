// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"

	"github.com/fleexa-project/devices/core/logger"
)

// The three message kinds every device speaks. Each maps to a schema file
// in the configured schema directory.
const (
	Telemetry = "telemetry"
	Alert     = "alert"
	Command   = "command"
)

var schemaFiles = map[string]string{
	Telemetry: "telemetry.schema.json",
	Alert:     "alert.schema.json",
	Command:   "command.schema.json",
}

// Registry holds the compiled message schemas. It is read-only after
// construction and safe for concurrent use by any number of device
// sessions.
//
// A schema that could not be loaded stays absent, and validation against an
// absent schema always fails. The registry fails closed, never open.
type Registry struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// NewRegistry loads the named message schemas from schemaDir. A missing or
// malformed schema file is logged and skipped; the process continues with
// reduced validation coverage.
func NewRegistry(schemaDir string) *Registry {
	registry := &Registry{schemaValidators: make(map[string]*gojsonschema.Schema)}

	for name, filename := range schemaFiles {
		path := filepath.Join(schemaDir, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Default().Warnln("schema not found:", path)
			continue
		}
		if err := registry.add(name, string(data)); err != nil {
			logger.Default().Errorf("invalid schema %s: %v", filename, err)
			continue
		}
		logger.Default().Infoln("loaded schema:", name)
	}
	return registry
}

// NewRegistryFromStrings builds a registry from in-memory schema documents,
// keyed by schema name. Intended for tests and for services that embed
// their schemas.
func NewRegistryFromStrings(schemas map[string]string) (*Registry, error) {
	registry := &Registry{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for name, document := range schemas {
		if err := registry.add(name, document); err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", name, err)
		}
	}
	return registry, nil
}

func (r *Registry) add(name, document string) error {
	if !json.Valid([]byte(document)) {
		return fmt.Errorf("not valid json")
	}
	sl := gojsonschema.NewSchemaLoader()
	compiled, err := sl.Compile(gojsonschema.NewStringLoader(document))
	if err != nil {
		return err
	}
	r.schemaValidators[name] = compiled
	return nil
}

// Has returns true if the named schema was loaded.
func (r *Registry) Has(name string) bool {
	_, ok := r.schemaValidators[name]
	return ok
}

// Validate checks the given document against the named schema. It returns
// false when the schema is absent or the document is not structurally
// compliant; the violated schema paths are logged for diagnostics.
// Validate never panics across this boundary.
func (r *Registry) Validate(document interface{}, name string) bool {
	return r.validate(gojsonschema.NewGoLoader(document), name)
}

// ValidateBytes is Validate for raw JSON.
func (r *Registry) ValidateBytes(document []byte, name string) bool {
	return r.validate(gojsonschema.NewBytesLoader(document), name)
}

func (r *Registry) validate(loader gojsonschema.JSONLoader, name string) (valid bool) {
	// a broken loader must degrade to a rejection, not a panic
	defer func() {
		if rec := recover(); rec != nil {
			logger.Default().Errorf("validation panic (%s): %v", name, rec)
			valid = false
		}
	}()

	compiled, ok := r.schemaValidators[name]
	if !ok {
		logger.Default().Errorln("schema not loaded:", name)
		return false
	}

	result, err := compiled.Validate(loader)
	if err != nil {
		logger.Default().Errorf("cannot validate with schema %s: %v", name, err)
		return false
	}

	if !result.Valid() {
		for _, e := range result.Errors() {
			logger.Default().Errorf("schema validation failed (%s): %s: %s", name, e.Field(), e.Description())
		}
		return false
	}
	return true
}
