package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// gradeCurveFile is the shape of a standalone grade-curve YAML file:
//
//	points:
//	  - grade: 9.4
//	    multiplier: 1.0
type gradeCurveFile struct {
	Points []GradeCurvePoint `yaml:"points"`
}

// LoadGradeCurveFile reads a grade-to-multiplier curve from a standalone
// YAML file, for swapping curves without touching the main config.
func LoadGradeCurveFile(path string) ([]GradeCurvePoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read grade curve %s", path)
	}

	var file gradeCurveFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "config: parse grade curve %s", path)
	}
	if len(file.Points) < 2 {
		return nil, eris.Errorf("config: grade curve %s needs at least two points", path)
	}
	for i := 1; i < len(file.Points); i++ {
		if file.Points[i].Grade <= file.Points[i-1].Grade {
			return nil, eris.Errorf("config: grade curve %s points must be strictly increasing by grade", path)
		}
	}
	return file.Points, nil
}

// LoadConditionMultipliersFile reads a condition-label multiplier table from
// a standalone YAML file (label -> multiplier).
func LoadConditionMultipliersFile(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read condition multipliers %s", path)
	}

	multipliers := make(map[string]float64)
	if err := yaml.Unmarshal(data, &multipliers); err != nil {
		return nil, eris.Wrapf(err, "config: parse condition multipliers %s", path)
	}
	for label, m := range multipliers {
		if m <= 0 {
			return nil, eris.Errorf("config: condition multiplier for %s must be > 0", label)
		}
	}
	return multipliers, nil
}
