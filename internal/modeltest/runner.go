package modeltest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/opgraph/backend"
	"github.com/gomlx/opgraph/onnx"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Status of a test case stage.
type Status int

const (
	Passed Status = iota
	Failed
	Skipped
	ExpectedFailure
	UnexpectedPass
)

var statusNames = []string{"passed", "FAILED", "skipped", "expected failure", "UNEXPECTED PASS"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result of one stage ("import", or "execute" of a data set) of a test case.
type Result struct {
	Case     string
	Stage    string
	Status   Status
	Err      error
	Duration time.Duration
}

// Report collects the results of a run.
type Report struct {
	Results []Result
}

// Count returns the number of results with the given status.
func (r *Report) Count(status Status) int {
	var count int
	for _, result := range r.Results {
		if result.Status == status {
			count++
		}
	}
	return count
}

// String implements fmt.Stringer, with one line per result followed by the totals.
func (r *Report) String() string {
	var buf bytes.Buffer
	for _, result := range r.Results {
		fmt.Fprintf(&buf, "%-18s %s [%s] (%s)", result.Status, result.Case, result.Stage, result.Duration.Round(time.Millisecond))
		if result.Err != nil {
			fmt.Fprintf(&buf, ": %v", result.Err)
		}
		buf.WriteString("\n")
	}
	fmt.Fprintf(&buf, "%d passed, %d failed, %d skipped, %d expected failures, %d unexpected passes\n",
		r.Count(Passed), r.Count(Failed), r.Count(Skipped), r.Count(ExpectedFailure), r.Count(UnexpectedPass))
	return buf.String()
}

// Runner runs test cases with a backend.
type Runner struct {
	backend  backend.Backend
	manifest *Manifest
	report   Report
}

// NewRunner creates a runner for the backend. manifest can be nil.
func NewRunner(b backend.Backend, manifest *Manifest) *Runner {
	if manifest == nil {
		manifest, _ = ParseManifest(nil)
	}
	return &Runner{backend: b, manifest: manifest}
}

// Report returns the results so far.
func (r *Runner) Report() *Report { return &r.report }

// Run runs each case as a subtest of t, with "Import" and "Execute" subtests. Each case can be run on its own
// with "go test -run".
func (r *Runner) Run(t *testing.T, cases []Case) {
	for _, c := range r.manifest.Select(cases) {
		t.Run(c.Name, func(t *testing.T) { r.runCase(t, c) })
	}
	if klog.V(1).Enabled() {
		klog.Infof("model-import tests:\n%s", r.report.String())
	}
}

// caseRun holds the state of the run of one test case.
type caseRun struct {
	r      *Runner
	c      Case
	failed bool

	// expectFailure is set with the reason if the case is expected to fail.
	expectFailure string
	isExpected    bool
}

func (r *Runner) runCase(t *testing.T, c Case) {
	if reason, found := r.manifest.excluded(c.Name); found {
		r.report.Results = append(r.report.Results, Result{Case: c.Name, Stage: "all", Status: Skipped})
		t.Skipf("excluded: %s", reason)
	}
	run := &caseRun{r: r, c: c}
	run.expectFailure, run.isExpected = r.manifest.expectedFailure(c.Name)

	var module *backend.Module
	t.Run("Import", func(t *testing.T) {
		start := time.Now()
		var err error
		module, err = r.backend.Import(c.Path)
		run.record(t, "import", start, err)
	})
	if module != nil {
		for _, dataSet := range c.DataSets {
			stage := "execute " + filepath.Base(dataSet)
			t.Run("Execute/"+filepath.Base(dataSet), func(t *testing.T) {
				start := time.Now()
				run.record(t, stage, start, r.runDataSet(module, dataSet))
			})
		}
	}
	if run.isExpected && !run.failed {
		r.report.Results = append(r.report.Results, Result{Case: c.Name, Stage: "all", Status: UnexpectedPass})
		t.Errorf("%s was expected to fail (%s), but passed: remove it from the expected failures", c.Name, run.expectFailure)
	}
}

// record adds the result of a stage to the report, and marks the test as failed or skipped accordingly.
func (run *caseRun) record(t *testing.T, stage string, start time.Time, err error) {
	result := Result{Case: run.c.Name, Stage: stage, Duration: time.Since(start), Err: err}
	switch {
	case err == nil:
		result.Status = Passed
	case run.isExpected:
		result.Status = ExpectedFailure
	default:
		result.Status = Failed
	}
	run.r.report.Results = append(run.r.report.Results, result)
	if err == nil {
		return
	}
	run.failed = true
	if run.isExpected {
		t.Skipf("expected failure (%s): %v", run.expectFailure, err)
	}
	t.Errorf("%s of %s failed: %+v", stage, run.c.Name, err)
}

// runDataSet executes the module with the inputs of the data set and compares the outputs.
func (r *Runner) runDataSet(module *backend.Module, dataSet string) error {
	inputs, err := readTensors(filepath.Join(dataSet, "input_*.pb"))
	if err != nil {
		return err
	}
	want, err := readTensors(filepath.Join(dataSet, "output_*.pb"))
	if err != nil {
		return err
	}
	got, err := r.backend.Execute(module, inputs...)
	if err != nil {
		return err
	}
	if len(got) != len(want) {
		return errors.Errorf("module returned %d outputs, data set has %d", len(got), len(want))
	}
	for ii := range want {
		if err := Compare(want[ii], got[ii], r.manifest.Tolerance); err != nil {
			return errors.WithMessagef(err, "output #%d (%q)", ii, module.OutputsNames()[ii])
		}
	}
	return nil
}

// readTensors reads the serialized ONNX tensors matching the pattern, in sorted order.
func readTensors(pattern string) ([]*tensors.Tensor, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
	}
	slices.Sort(paths)
	values := make([]*tensors.Tensor, 0, len(paths))
	for _, path := range paths {
		proto, err := onnx.ReadTensorFile(path)
		if err != nil {
			return nil, err
		}
		tensor, err := onnx.TensorToGoMLX(proto, nil)
		if err != nil {
			return nil, errors.WithMessagef(err, "while reading %s", path)
		}
		values = append(values, tensor)
	}
	return values, nil
}

// Compare checks that got has the shape of want, and values within the tolerance.
// Values are compared as float32, and NaNs must match.
func Compare(want, got *tensors.Tensor, tolerance Tolerance) error {
	if !want.Shape().Equal(got.Shape()) {
		return errors.Errorf("want shape %s, got %s", want.Shape(), got.Shape())
	}
	wantValues, err := flatFloat32(want)
	if err != nil {
		return err
	}
	gotValues, err := flatFloat32(got)
	if err != nil {
		return err
	}
	for ii, w := range wantValues {
		g := gotValues[ii]
		if math32.IsNaN(w) || math32.IsNaN(g) {
			if math32.IsNaN(w) != math32.IsNaN(g) {
				return errors.Errorf("value #%d: want %g, got %g", ii, w, g)
			}
			continue
		}
		if math32.IsInf(w, 0) && w == g {
			continue
		}
		if math32.Abs(g-w) > tolerance.ATol+tolerance.RTol*math32.Abs(w) {
			return errors.Errorf("value #%d: want %g, got %g (rtol=%g, atol=%g)", ii, w, g, tolerance.RTol, tolerance.ATol)
		}
	}
	return nil
}

func toFloat32[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64](values []T) []float32 {
	converted := make([]float32, len(values))
	for ii, v := range values {
		converted[ii] = float32(v)
	}
	return converted
}

// flatFloat32 returns the values of t converted to float32.
func flatFloat32(t *tensors.Tensor) ([]float32, error) {
	switch t.DType() {
	case dtypes.Float32:
		return tensors.MustCopyFlatData[float32](t), nil
	case dtypes.Float64:
		return toFloat32(tensors.MustCopyFlatData[float64](t)), nil
	case dtypes.Float16:
		halves := tensors.MustCopyFlatData[float16.Float16](t)
		values := make([]float32, len(halves))
		for ii, h := range halves {
			values[ii] = h.Float32()
		}
		return values, nil
	case dtypes.Int8:
		return toFloat32(tensors.MustCopyFlatData[int8](t)), nil
	case dtypes.Int16:
		return toFloat32(tensors.MustCopyFlatData[int16](t)), nil
	case dtypes.Int32:
		return toFloat32(tensors.MustCopyFlatData[int32](t)), nil
	case dtypes.Int64:
		return toFloat32(tensors.MustCopyFlatData[int64](t)), nil
	case dtypes.Uint8:
		return toFloat32(tensors.MustCopyFlatData[uint8](t)), nil
	case dtypes.Uint16:
		return toFloat32(tensors.MustCopyFlatData[uint16](t)), nil
	case dtypes.Uint32:
		return toFloat32(tensors.MustCopyFlatData[uint32](t)), nil
	case dtypes.Uint64:
		return toFloat32(tensors.MustCopyFlatData[uint64](t)), nil
	case dtypes.Bool:
		flags := tensors.MustCopyFlatData[bool](t)
		values := make([]float32, len(flags))
		for ii, flag := range flags {
			if flag {
				values[ii] = 1
			}
		}
		return values, nil
	default:
		return nil, errors.Errorf("comparison of %s values not supported", t.DType())
	}
}
