// Package modeltest runs the model-import tests: every ONNX model found under a directory is imported with a
// backend, and executed against the ONNX test data sets stored next to it (test_data_set_*/input_*.pb and
// output_*.pb), with each model reported as its own test case.
//
// Which models are run, and which are expected to fail, is curated with a Manifest.
package modeltest

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelExt is the extension of the model files discovered.
const ModelExt = ".onnx"

// Case is one model to test.
type Case struct {
	// Name is the path of the model relative to the discovery root, with "/" separators.
	Name string

	// Path of the model file.
	Path string

	// DataSets are the directories with test inputs and expected outputs, sorted.
	DataSets []string
}

// isHidden returns whether the file or directory name is hidden (dot-file).
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Discover walks root recursively and returns a test case per model file, sorted by name.
// Hidden files and directories are skipped.
func Discover(root string) ([]Case, error) {
	var cases []Case
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && isHidden(entry.Name()) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || filepath.Ext(path) != ModelExt {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		dataSets, err := filepath.Glob(filepath.Join(filepath.Dir(path), "test_data_set_*"))
		if err != nil {
			return err
		}
		slices.Sort(dataSets)
		cases = append(cases, Case{Name: filepath.ToSlash(rel), Path: path, DataSets: dataSets})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to discover models in %s", root)
	}
	slices.SortFunc(cases, func(a, b Case) int { return strings.Compare(a.Name, b.Name) })
	if klog.V(1).Enabled() {
		klog.Infof("discovered %d models in %s", len(cases), root)
	}
	return cases, nil
}
