package main

import (
	"fmt"

	"github.com/gomlx/opgraph/backend"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/onnx"
	"github.com/gomlx/opgraph/opset"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <model.onnx>",
		Short: "Print the inputs, outputs, initializers and operators of an ONNX model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := onnx.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), model.String())
			return nil
		},
	}
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <model.onnx>",
		Short: "Import an ONNX model into an operation graph and print it",
		Long: `Import an ONNX model into an operation graph, built with the nodes of the selected operation set,
and print the graph.

Symbolic input dimensions must be bound with --dim, e.g.:

  opgraph import model.onnx --opset opset1 --dim batch_size=1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.opsetID()
			if err != nil {
				return err
			}
			dims, err := opts.dimensions()
			if err != nil {
				return err
			}
			model, err := onnx.ReadFile(args[0])
			if err != nil {
				return err
			}
			model.WithOpset(id)
			for name, value := range dims {
				model.WithDimension(name, value)
			}
			g := engine.NewGraph(model.Proto.Graph.Name)
			outputs, err := model.Import(g)
			if err != nil {
				return err
			}
			klog.V(1).Infof("imported %q with %s: %d nodes", args[0], id, g.NumNodes())
			out := cmd.OutOrStdout()
			fmt.Fprint(out, g.String())
			for ii, output := range outputs {
				fmt.Fprintf(out, "output %q: %s\n", model.OutputsNames[ii], output.Shape())
			}
			return nil
		},
	}
}

func newOpsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the operations of the selected operation set, marking those the GoMLX backend can execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.opsetID()
			if err != nil {
				return err
			}
			executable := make(map[string]bool)
			for _, op := range backend.SupportedOps() {
				executable[op] = true
			}
			out := cmd.OutOrStdout()
			ops := opset.GetFactory(id).Ops()
			fmt.Fprintf(out, "%s: %d operations\n", id, len(ops))
			for _, op := range ops {
				if executable[op] {
					fmt.Fprintf(out, "  %s\n", op)
				} else {
					fmt.Fprintf(out, "  %s (not executable)\n", op)
				}
			}
			return nil
		},
	}
}
