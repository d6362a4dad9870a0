package transform

import (
	"errors"
	"testing"
)

func TestRelativeTo(t *testing.T) {
	positions := map[string]Position{
		"Earth": {Body: "Earth", Vector: Vector{X: 1, Y: 0, Z: 0}},
		"Mars":  {Body: "Mars", Vector: Vector{X: 1.5, Y: 0.5, Z: 0.1}},
		"Venus": {Body: "Venus", Vector: Vector{X: -0.7, Y: 0, Z: 0}},
	}

	rel, err := RelativeTo(positions, "Earth")
	if err != nil {
		t.Fatalf("RelativeTo: %v", err)
	}

	if _, ok := rel["Earth"]; ok {
		t.Error("reference body should be excluded from the result")
	}
	if len(rel) != 2 {
		t.Fatalf("got %d bodies, want 2", len(rel))
	}

	mars := rel["Mars"]
	if !near(mars.X, 0.5, tol) || !near(mars.Y, 0.5, tol) || !near(mars.Z, 0.1, tol) {
		t.Errorf("Mars relative = %+v, want (0.5, 0.5, 0.1)", mars.Vector)
	}
	if mars.Body != "Mars" {
		t.Errorf("Mars body = %q", mars.Body)
	}
	venus := rel["Venus"]
	if !near(venus.X, -1.7, tol) {
		t.Errorf("Venus relative X = %v, want -1.7", venus.X)
	}

	// Input is not modified.
	if positions["Mars"].X != 1.5 || len(positions) != 3 {
		t.Error("RelativeTo mutated its input")
	}
}

func TestRelativeToMissingReference(t *testing.T) {
	positions := map[string]Position{
		"Mars": {Body: "Mars", Vector: Vector{X: 1, Y: 2, Z: 3}},
	}

	rel, err := RelativeTo(positions, "Earth")
	if err == nil {
		t.Fatal("expected error for missing reference")
	}
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Errorf("error = %v, want ErrReferenceNotFound", err)
	}
	if rel != nil {
		t.Errorf("expected nil result, got %v", rel)
	}
}

func TestRelativeToOnlyReference(t *testing.T) {
	positions := map[string]Position{
		"Earth": {Body: "Earth", Vector: Vector{X: 1}},
	}
	rel, err := RelativeTo(positions, "Earth")
	if err != nil {
		t.Fatalf("RelativeTo: %v", err)
	}
	if len(rel) != 0 {
		t.Errorf("got %d bodies, want 0", len(rel))
	}
}
