package contract_test

import (
	"encoding/json"
	"testing"

	"github.com/predictcoord/coordinator/internal/contract"
)

func TestCompileShapesWithAllShapesEmpty(t *testing.T) {
	shapes, err := contract.CompileShapes(contract.Config{})
	if err != nil {
		t.Fatalf("CompileShapes: %v", err)
	}
	if err := shapes.RawInput.Validate(json.RawMessage(`{"whatever":1}`)); err != nil {
		t.Fatalf("RawInput.Validate: %v", err)
	}
	if err := shapes.Score.Validate(json.RawMessage(`null`)); err != nil {
		t.Fatalf("Score.Validate: %v", err)
	}
}

func TestCompileShapesCompilesDeclaredSchemas(t *testing.T) {
	cfg := contract.Config{
		InferenceOutputType: json.RawMessage(`{"type": "object", "properties": {"direction": {"type": "number"}}, "required": ["direction"]}`),
	}
	shapes, err := contract.CompileShapes(cfg)
	if err != nil {
		t.Fatalf("CompileShapes: %v", err)
	}
	if err := shapes.InferenceOutput.Validate(json.RawMessage(`{"direction": 1}`)); err != nil {
		t.Fatalf("InferenceOutput.Validate(valid): %v", err)
	}
	if err := shapes.InferenceOutput.Validate(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected validation to fail when the required field is missing")
	}
}

func TestCompileShapesPropagatesCompileError(t *testing.T) {
	cfg := contract.Config{RawInputType: json.RawMessage(`{"type": `)}
	if _, err := contract.CompileShapes(cfg); err == nil {
		t.Fatal("expected CompileShapes to surface a malformed schema error")
	}
}
