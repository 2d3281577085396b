package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// BridgePayloadSchema accepts any JSON object. The gateway owns the fields;
// the client only insists that the payload is a key/value mapping.
const BridgePayloadSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object"
}`

// CheckoutRequestSchema is the contract for starting a checkout session over HTTP.
const CheckoutRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["basket_token", "fulfilment", "gateway_type", "store_id"],
  "properties": {
    "basket_token": {"type": "string", "minLength": 1},
    "store_id": {"type": "string", "minLength": 1},
    "gateway_type": {"type": "string", "enum": ["card", "cash", "wallet"]},
    "instructions": {"type": ["string", "null"]},
    "device_token": {"type": ["string", "null"]},
    "fulfilment": {
      "type": "object",
      "required": ["method", "slot_start"],
      "properties": {
        "method": {"type": "string", "enum": ["delivery", "collection"]},
        "address_id": {"type": "string"},
        "store_id": {"type": "string"},
        "slot_start": {"type": "string", "format": "date-time"},
        "slot_end": {"type": "string"}
      }
    }
  }
}`

// ContractMonitor validates JSON documents against a compiled schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles schemaJSON.
func NewContractMonitor(schemaJSON string) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("monitor: error compiling schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// MustContractMonitor is NewContractMonitor for schemas known at compile time.
func MustContractMonitor(schemaJSON string) *ContractMonitor {
	cm, err := NewContractMonitor(schemaJSON)
	if err != nil {
		panic(err)
	}
	return cm
}

// Validate checks document against the schema. The error is non-nil only when
// the document could not be read as JSON at all.
func (cm *ContractMonitor) Validate(document []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return false, nil, fmt.Errorf("monitor: error during validation: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}

	var violations []string
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatErrors joins validation errors into one message.
func FormatErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(violations, "; ")
}
