// Package benchmarks measures graph construction with the operation catalogs and the ONNX importer, and the
// execution of imported models, against ONNX Runtime when available.
//
// Benchmarks based on the go-benchmarks library only run if --bench_duration is set, e.g.:
//
//	go test ./internal/benchmarks/ -test.run=Bench -bench_duration=5s
package benchmarks

import (
	"flag"
	"fmt"
	"os"
	"testing"

	ort "github.com/yalue/onnxruntime_go"
)

var flagBenchDuration = flag.Duration("bench_duration", 0, "Run benchmark tests (TestBench*) for this duration. If 0 they are skipped.")

// skipBench skips go-benchmarks based tests if --short or --bench_duration is not set.
func skipBench(t *testing.T, name string) {
	if testing.Short() {
		fmt.Printf("Skipping %s benchmark test: --short is set\n", name)
		t.SkipNow()
	}
	if *flagBenchDuration == 0 {
		fmt.Printf("Skipping %s benchmark test: --bench_duration is not set\n", name)
		t.SkipNow()
	}
}

// initORT initializes ONNX Runtime from $ORT_SO_PATH, or skips the benchmark if it is not set.
func initORT(b *testing.B) {
	ortPath := os.Getenv("ORT_SO_PATH")
	if ortPath == "" {
		b.Skip("ORT_SO_PATH not set")
	}
	ort.SetSharedLibraryPath(ortPath)
	if err := ort.InitializeEnvironment(); err != nil {
		b.Fatalf("failed to initialize ONNX Runtime: %v", err)
	}
	b.Cleanup(func() { _ = ort.DestroyEnvironment() })
}

// sliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func sliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}
