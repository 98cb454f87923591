package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var embeddedSchemaData []byte

// ErrInvalid is wrapped by every Load and Verify failure caused by the registry file content.
var ErrInvalid = errors.New("invalid registry file")

const schemaTitle = "Gatekeeper Registry Configuration"

// embedded schema is compiled on first use and shared by all Verify calls
var registrySchema = sync.OnceValues(func() (*validator.Schema, error) {
	return compileSchema(embeddedSchemaData)
})

// GenerateSchema reflects Config into the JSON schema embedded as schema.json.
func GenerateSchema() ([]byte, error) {
	s := jsonschema.Reflect(&Config{})
	s.Title = schemaTitle
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}

// Verify checks registry data against the embedded schema. Each violation is reported
// with its location in the document, e.g. "/resources/0: missing properties: 'name'".
// An empty document is valid.
func Verify(data []byte) error {
	s, err := registrySchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: can't parse yaml: %v", ErrInvalid, err) //nolint:errorlint // category is the sentinel
	}
	if doc == nil {
		return nil
	}

	err = s.Validate(doc)
	var ve *validator.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ve):
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(violations(ve), "; "))
	default:
		return fmt.Errorf("%w: %v", ErrInvalid, err) //nolint:errorlint // category is the sentinel
	}
}

func compileSchema(data []byte) (*validator.Schema, error) {
	if len(data) == 0 {
		return nil, errors.New("embedded registry schema is empty")
	}
	compiler := validator.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return s, nil
}

// violations flattens the validation tree into leaf messages
func violations(ve *validator.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + ve.Message}
	}
	var res []string
	for _, c := range ve.Causes {
		res = append(res, violations(c)...)
	}
	return res
}
