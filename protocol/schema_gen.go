package protocol

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// JSONSchema describes Direction by its text form.
func (Direction) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "string",
		Enum: []interface{}{"none", "up", "down"},
	}
}

// GenerateSchema reflects the envelope types into a JSON schema document.
// schemas/envelope.schema.json is the hand-tuned variant used for validation;
// this one is regenerated by cmd/schemagen for client authors.
func GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.ReflectFromType(reflect.TypeOf(Envelope{}))
	if schema == nil {
		return nil, fmt.Errorf("protocol: failed to reflect envelope schema")
	}
	schema.Title = "arenasync envelope"
	schema.Description = "Exactly one of control_input (client to server) or game_state (server to client)."
	return schema, nil
}
