package modeltest

import (
	"os"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ManifestFileName is the name of the manifest looked for in the models directory.
const ManifestFileName = "manifest.yaml"

// Manifest curates the test cases of a models directory. Example:
//
//	include:
//	  - vision/resnet50/model.onnx
//	exclude:
//	  big/model.onnx: too slow
//	expected_failures:
//	  detection/ssd/model.onnx: uses Loop
//	dimensions:
//	  batch_size: 1
//	tolerance:
//	  rtol: 1e-3
//	  atol: 1e-5
type Manifest struct {
	// Include lists the only cases to run. If empty, all cases discovered are run.
	Include []string `yaml:"include"`

	// Exclude maps cases not to run to the reason.
	Exclude map[string]string `yaml:"exclude"`

	// ExpectedFailures maps cases that are run but are expected to fail to the reason.
	ExpectedFailures map[string]string `yaml:"expected_failures"`

	// Dimensions binds symbolic dimensions of the inputs of the models.
	Dimensions map[string]int `yaml:"dimensions"`

	Tolerance Tolerance `yaml:"tolerance"`
}

// Tolerance of the comparison of float outputs: |got - want| <= ATol + RTol * |want|.
type Tolerance struct {
	RTol float32 `yaml:"rtol"`
	ATol float32 `yaml:"atol"`
}

// DefaultTolerance is used when the manifest doesn't set one.
var DefaultTolerance = Tolerance{RTol: 1e-4, ATol: 1e-5}

// ParseManifest parses a YAML manifest.
func ParseManifest(contents []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(contents, m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest")
	}
	if m.Tolerance == (Tolerance{}) {
		m.Tolerance = DefaultTolerance
	}
	return m, nil
}

// LoadManifest reads a YAML manifest file. If the file doesn't exist, it returns an empty manifest.
func LoadManifest(filePath string) (*Manifest, error) {
	contents, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return ParseManifest(nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", filePath)
	}
	m, err := ParseManifest(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "in %s", filePath)
	}
	return m, nil
}

// Select returns the cases listed in Include (all if Include is empty), in the given order.
// Excluded cases are kept: the runner reports them as skipped.
func (m *Manifest) Select(cases []Case) []Case {
	if len(m.Include) == 0 {
		return cases
	}
	var selected []Case
	for _, c := range cases {
		if slices.Contains(m.Include, c.Name) {
			selected = append(selected, c)
		}
	}
	return selected
}

func (m *Manifest) excluded(name string) (reason string, found bool) {
	reason, found = m.Exclude[name]
	return
}

func (m *Manifest) expectedFailure(name string) (reason string, found bool) {
	reason, found = m.ExpectedFailures[name]
	return
}
