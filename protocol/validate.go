package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/envelope.schema.json
var envelopeSchemaJSON string

var envelopeSchema = jsonschema.MustCompileString("envelope.schema.json", envelopeSchemaJSON)

// ValidateJSON checks a raw JSON frame against the envelope schema.
func ValidateJSON(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := envelopeSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
