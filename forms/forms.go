// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package forms validates intake form submissions against embedded JSON schemas
and transforms valid submissions into storage inserts.
*/
package forms

import (
	"embed"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// well-known form identifiers
const (
	BuildingIntake = "https://roomops.com/schemas/building_intake.json"
	TenantIntake   = "https://roomops.com/schemas/tenant_intake.json"
	LeadIntake     = "https://roomops.com/schemas/lead_intake.json"
)

// Result is the outcome of a form validation. Errors maps the offending field
// to a human-readable message; the root object maps to the empty field name.
type Result struct {
	IsValid bool              `json:"is_valid"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Validator validates form submissions against a set of JSON schemas
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// NewValidator creates a validator with all embedded form schemas compiled.
func NewValidator() (*Validator, error) {
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}

	files, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("cannot read schema dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		str, err := schemaFS.ReadFile("schemas/" + f.Name())
		if err != nil {
			return nil, fmt.Errorf("cannot read schema '%s': %w", f.Name(), err)
		}
		var s struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal(str, &s); err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema '%s'", err, f.Name())
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema '%s' does not contain $id", f.Name())
		}
		sl := gojsonschema.NewSchemaLoader()
		schema, err := sl.Compile(gojsonschema.NewStringLoader(string(str)))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", s.ID, err)
		}
		validator.schemaValidators[s.ID] = schema
	}
	return &validator, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// ValidateString validates a raw JSON submission against schemaID.
func (v *Validator) ValidateString(submission, schemaID string) Result {
	return v.validate(gojsonschema.NewStringLoader(submission), schemaID)
}

// ValidateStruct validates a Go value against schemaID.
func (v *Validator) ValidateStruct(submission interface{}, schemaID string) Result {
	return v.validate(gojsonschema.NewGoLoader(submission), schemaID)
}

func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) Result {
	schema, ok := v.schemaValidators[schemaID]
	if !ok {
		return Result{Errors: map[string]string{"": "there is no schema " + schemaID}}
	}
	result, err := schema.Validate(loader)
	if err != nil {
		return Result{Errors: map[string]string{"": err.Error()}}
	}
	if result.Valid() {
		return Result{IsValid: true}
	}
	errs := make(map[string]string, len(result.Errors()))
	for _, e := range result.Errors() {
		field := e.Field()
		if field == "(root)" {
			field = ""
			if property, ok := e.Details()["property"].(string); ok {
				field = property
			}
		}
		errs[field] = e.Description()
	}
	return Result{Errors: errs}
}
