package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ShapeValidationError carries every gojsonschema violation for one
// document.
type ShapeValidationError struct {
	Shape   string                `json:"shape"`
	Errors  []ShapeValidationItem `json:"validation_errors"`
	Message string                `json:"error"`
}

// ShapeValidationItem is one gojsonschema violation.
type ShapeValidationItem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e *ShapeValidationError) Error() string {
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	return "shape_validation_failed"
}

// IsShapeValidationError reports whether err is a ShapeValidationError.
func IsShapeValidationError(err error) bool {
	_, ok := err.(*ShapeValidationError)
	return ok
}

// Shape compiles a JSON Schema document once and validates documents against
// it repeatedly, for the four declared competition shapes (raw_input_type,
// inference_input_type, inference_output_type, score_type).
type Shape struct {
	name   string
	schema *gojsonschema.Schema
}

// NewShape compiles schemaDoc (a JSON Schema document) under name.
func NewShape(name string, schemaDoc json.RawMessage) (*Shape, error) {
	if len(strings.TrimSpace(string(schemaDoc))) == 0 {
		return &Shape{name: name}, nil
	}
	loader := gojsonschema.NewBytesLoader(schemaDoc)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("compile shape %q: %w", name, err)
	}
	return &Shape{name: name, schema: schema}, nil
}

// Validate checks doc against the compiled schema. A Shape with no schema
// (empty document, e.g. an unconstrained raw_input_type) always validates.
func (s *Shape) Validate(doc json.RawMessage) error {
	if s.schema == nil {
		return nil
	}
	trimmed := strings.TrimSpace(string(doc))
	if trimmed == "" {
		trimmed = "null"
	}
	res, err := s.schema.Validate(gojsonschema.NewStringLoader(trimmed))
	if err != nil {
		return fmt.Errorf("validate shape %q: %w", s.name, err)
	}
	if res.Valid() {
		return nil
	}
	items := make([]ShapeValidationItem, 0, len(res.Errors()))
	for _, item := range res.Errors() {
		items = append(items, ShapeValidationItem{
			Path:    item.Field(),
			Message: item.Description(),
			Value:   item.Value(),
		})
	}
	return &ShapeValidationError{Shape: s.name, Errors: items, Message: fmt.Sprintf("%s_validation_failed", s.name)}
}

// InferenceOutput is the tagged-union decode target for a model's Predict
// response. Kind discriminates the declared competition shape; Numeric is
// populated for the common scalar-signal shape, Vector for multi-field
// shapes, and Raw always carries the untouched document for custom scoring
// functions that need the original structure.
type InferenceOutput struct {
	Kind    string          `json:"kind"`
	Numeric *float64        `json:"numeric,omitempty"`
	Vector  map[string]float64 `json:"vector,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// DecodeInferenceOutput parses doc into a discriminated InferenceOutput after
// shape validation has already passed. It recognizes two wire conventions:
// a bare JSON number (Kind="numeric") or an object (Kind="vector"), both
// common among the reference scoring functions in internal/score.
func DecodeInferenceOutput(doc json.RawMessage) (*InferenceOutput, error) {
	trimmed := strings.TrimSpace(string(doc))
	out := &InferenceOutput{Raw: doc}
	if trimmed == "" {
		return nil, fmt.Errorf("empty inference output")
	}
	var num float64
	if err := json.Unmarshal(doc, &num); err == nil {
		out.Kind = "numeric"
		out.Numeric = &num
		return out, nil
	}
	var vec map[string]float64
	if err := json.Unmarshal(doc, &vec); err == nil {
		out.Kind = "vector"
		out.Vector = vec
		return out, nil
	}
	return nil, fmt.Errorf("inference output is neither a number nor an object of numbers")
}

// Signal returns a single scalar for scoring/metrics purposes: Numeric
// directly, or the "signal" field of a Vector shape.
func (o *InferenceOutput) Signal() (float64, bool) {
	if o.Numeric != nil {
		return *o.Numeric, true
	}
	if v, ok := o.Vector["signal"]; ok {
		return v, true
	}
	return 0, false
}
