package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadGradeCurveFile(t *testing.T) {
	path := writeTempFile(t, `
points:
  - grade: 2.0
    multiplier: 0.2
  - grade: 9.4
    multiplier: 1.0
  - grade: 9.8
    multiplier: 1.6
`)
	points, err := LoadGradeCurveFile(path)
	if err != nil {
		t.Fatalf("LoadGradeCurveFile: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	if points[1].Grade != 9.4 || points[1].Multiplier != 1.0 {
		t.Errorf("points[1] = %+v", points[1])
	}
}

func TestLoadGradeCurveFileRejectsUnordered(t *testing.T) {
	path := writeTempFile(t, `
points:
  - grade: 9.4
    multiplier: 1.0
  - grade: 2.0
    multiplier: 0.2
`)
	if _, err := LoadGradeCurveFile(path); err == nil {
		t.Error("unordered curve should error")
	}
}

func TestLoadGradeCurveFileRejectsSinglePoint(t *testing.T) {
	path := writeTempFile(t, "points:\n  - grade: 9.4\n    multiplier: 1.0\n")
	if _, err := LoadGradeCurveFile(path); err == nil {
		t.Error("single-point curve should error")
	}
}

func TestLoadConditionMultipliersFile(t *testing.T) {
	path := writeTempFile(t, "Near Mint: 1.0\nFine: 0.55\n")
	multipliers, err := LoadConditionMultipliersFile(path)
	if err != nil {
		t.Fatalf("LoadConditionMultipliersFile: %v", err)
	}
	if multipliers["Fine"] != 0.55 {
		t.Errorf("Fine = %v, want 0.55", multipliers["Fine"])
	}
}

func TestLoadConditionMultipliersFileRejectsNonPositive(t *testing.T) {
	path := writeTempFile(t, "Poor: 0\n")
	if _, err := LoadConditionMultipliersFile(path); err == nil {
		t.Error("zero multiplier should error")
	}
}
