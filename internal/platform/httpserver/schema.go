package httpserver

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema validates request bodies against a JSON schema.
type Schema struct {
	schema *gojsonschema.Schema
}

// MustSchema compiles src and panics if it is not a valid schema.
func MustSchema(src string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid JSON schema: %v", err))
	}
	return &Schema{schema: s}
}

// Validate returns one message per violation, or nil when body conforms. A
// body that is not JSON at all yields a single message.
func (s *Schema) Validate(body []byte) []string {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return []string{fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return msgs
}
