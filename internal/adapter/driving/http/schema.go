package httphandler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// maxBodyBytes caps request bodies. Credentials are at most a few hundred bytes.
const maxBodyBytes = 64 << 10

const schemaBaseURL = "https://credvault.local/schemas/"

// Request body schemas, keyed by resource name.
var requestSchemaJSON = map[string]string{
	"set-credential.json": `{
		"type": "object",
		"required": ["value"],
		"additionalProperties": false,
		"properties": {
			"value": {"type": "string", "minLength": 1, "maxLength": 4096},
			"scope": {"type": "string", "maxLength": 255},
			"skip_live_validation": {"type": "boolean"}
		}
	}`,
	"validate-credential.json": `{
		"type": "object",
		"required": ["provider", "value"],
		"additionalProperties": false,
		"properties": {
			"provider": {"type": "string", "minLength": 1, "maxLength": 64},
			"value": {"type": "string", "minLength": 1, "maxLength": 4096},
			"user_id": {"type": "string", "maxLength": 255},
			"skip_live_validation": {"type": "boolean"}
		}
	}`,
	"clone-credential.json": `{
		"type": "object",
		"required": ["to_scope"],
		"additionalProperties": false,
		"properties": {
			"from_scope": {"type": "string", "maxLength": 255},
			"to_scope": {"type": "string", "minLength": 1, "maxLength": 255}
		}
	}`,
}

// requestValidator holds the compiled request body schemas.
type requestValidator struct {
	schemas map[string]*jsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	c := jsonschema.NewCompiler()

	for name, src := range requestSchemaJSON {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
	}

	v := &requestValidator{schemas: make(map[string]*jsonschema.Schema, len(requestSchemaJSON))}
	for name := range requestSchemaJSON {
		sch, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[name] = sch
	}
	return v, nil
}

// bodyError is a request body problem reported to the client as-is.
type bodyError struct {
	status     int
	message    string
	violations []string
}

func (e *bodyError) Error() string { return e.message }

// decode reads the request body, validates it against the named schema, and
// unmarshals it into dst. Failures are *bodyError.
func (v *requestValidator) decode(w http.ResponseWriter, r *http.Request, schemaName string, dst any) error {
	sch, ok := v.schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown request schema %q", schemaName)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &bodyError{status: http.StatusRequestEntityTooLarge, message: "request body too large"}
		}
		return &bodyError{status: http.StatusBadRequest, message: "could not read request body"}
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return &bodyError{status: http.StatusBadRequest, message: "invalid request body"}
	}

	if err := sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return &bodyError{status: http.StatusBadRequest, message: "invalid request body"}
		}
		return &bodyError{
			status:     http.StatusBadRequest,
			message:    "request body does not match schema",
			violations: collectViolations(verr),
		}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return &bodyError{status: http.StatusBadRequest, message: "invalid request body"}
	}
	return nil
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
