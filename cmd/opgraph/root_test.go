package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/opgraph/internal/onnxtest"
	"github.com/stretchr/testify/require"
)

// run executes the command line and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	modelPath := filepath.Join(t.TempDir(), "linear.onnx")
	require.NoError(t, onnxtest.Linear().WriteFile(modelPath))

	t.Run("Inspect", func(t *testing.T) {
		out, err := run(t, "inspect", modelPath)
		require.NoError(t, err)
		require.Contains(t, out, "[#0] x: (Float32) [batch_size, 3]")
	})

	t.Run("Import", func(t *testing.T) {
		out, err := run(t, "import", modelPath, "--dim", "batch_size=2")
		require.NoError(t, err)
		require.Contains(t, out, `Graph "linear"`)
		require.Contains(t, out, `output "y": (Float32)[2]`)

		_, err = run(t, "import", modelPath)
		require.ErrorContains(t, err, "batch_size")
		_, err = run(t, "import", modelPath, "--dim", "batch_size")
		require.ErrorContains(t, err, "invalid dimension binding")
		_, err = run(t, "import", modelPath, "--dim", "batch_size=2", "--opset", "opset99")
		require.ErrorContains(t, err, "unknown operation set")
	})

	t.Run("ConfigFile", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "opgraph.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("opset: opset1\ndim: [batch_size=3]\n"), 0o644))
		out, err := run(t, "import", modelPath, "--config", cfgPath)
		require.NoError(t, err)
		require.Contains(t, out, `output "y": (Float32)[3]`)
	})

	t.Run("Ops", func(t *testing.T) {
		out, err := run(t, "ops", "--opset", "opset0")
		require.NoError(t, err)
		require.Contains(t, out, "opset0: 3 operations")
		require.Contains(t, out, "Asin (not executable)")

		t.Setenv(EnvPrefix+"_OPSET", "opset5")
		out, err = run(t, "ops")
		require.NoError(t, err)
		require.Contains(t, out, "GatherND")
	})
}
