package main

import (
	"flag"
	"strconv"
	"strings"

	"github.com/gomlx/opgraph/opset"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

// EnvPrefix of the environment variables that set the flags, e.g. OPGRAPH_OPSET=opset1.
const EnvPrefix = "OPGRAPH"

// options shared by the subcommands, resolved from flags, environment and config file.
type options struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &options{v: viper.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:           "opgraph",
		Short:         "Build operation graphs from ONNX models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cfgFile)
		},
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file with defaults for the flags")
	root.PersistentFlags().String("opset", string(opset.Opset5), "Operation set used to build the graphs")
	root.PersistentFlags().StringSlice("dim", nil, `Symbolic dimension bindings, as "<name>=<value>" (repeatable)`)
	_ = opts.v.BindPFlag("opset", root.PersistentFlags().Lookup("opset"))
	_ = opts.v.BindPFlag("dim", root.PersistentFlags().Lookup("dim"))

	root.AddCommand(newInspectCmd(), newImportCmd(opts), newOpsCmd(opts))
	return root
}

func (opts *options) load(cfgFile string) error {
	opts.v.SetEnvPrefix(EnvPrefix)
	opts.v.AutomaticEnv()
	if cfgFile == "" {
		return nil
	}
	opts.v.SetConfigFile(cfgFile)
	if err := opts.v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config %s", cfgFile)
	}
	return nil
}

// opsetID returns the selected operation set, which must be known.
func (opts *options) opsetID() (opset.ID, error) {
	id := opset.ID(opts.v.GetString("opset"))
	if len(opset.GetFactory(id).Ops()) == 0 {
		return "", errors.Errorf("unknown operation set %q, known: %s, %s, %s", id, opset.Opset0, opset.Opset1, opset.Opset5)
	}
	return id, nil
}

// dimensions parses the "<name>=<value>" bindings.
func (opts *options) dimensions() (map[string]int, error) {
	dims := make(map[string]int)
	for _, binding := range opts.v.GetStringSlice("dim") {
		name, value, found := strings.Cut(binding, "=")
		if !found || name == "" {
			return nil, errors.Errorf("invalid dimension binding %q, expected <name>=<value>", binding)
		}
		dim, err := strconv.Atoi(value)
		if err != nil || dim <= 0 {
			return nil, errors.Errorf("invalid value in dimension binding %q, expected a positive integer", binding)
		}
		dims[name] = dim
	}
	return dims, nil
}
