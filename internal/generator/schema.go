package generator

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var documentSchema string

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// Validate checks a generated document against the resume schema.
func Validate(document map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("validate generated document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("generated document does not match schema: %s", strings.Join(problems, "; "))
}
