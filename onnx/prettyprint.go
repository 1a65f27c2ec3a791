package onnx

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// String implements fmt.Stringer: a summary of the model's metadata, graph inputs and outputs, and of the
// operators it uses, marking those the importer doesn't support.
func (m *Model) String() string {
	var sb strings.Builder
	m.writeHeader(&sb)
	writeValues(&sb, "inputs", m.InputsNames, m.InputsShapes)
	writeValues(&sb, "outputs", m.OutputsNames, m.OutputsShapes)
	m.writeGraphSummary(&sb)
	return sb.String()
}

func (m *Model) writeHeader(w io.Writer) {
	p := &m.Proto
	fmt.Fprintf(w, "ONNX Model %q:\n", p.Graph.Name)
	if p.DocString != "" {
		fmt.Fprintf(w, "%s\n", p.DocString)
	}
	if p.ProducerName != "" {
		fmt.Fprintf(w, "\tProducer:\t%s %s\n", p.ProducerName, p.ProducerVersion)
	}
	if p.ModelVersion != 0 {
		fmt.Fprintf(w, "\tVersion:\t%d\n", p.ModelVersion)
	}
	fmt.Fprintf(w, "\tIR Version:\t%d\n", p.IrVersion)
	imports := make([]string, len(p.OpsetImport))
	for ii, imp := range p.OpsetImport {
		domain := imp.Domain
		if domain == "" {
			domain = "ai.onnx"
		}
		imports[ii] = fmt.Sprintf("%s v%d", domain, imp.Version)
	}
	fmt.Fprintf(w, "\tONNX opsets:\t%s\n", strings.Join(imports, ", "))
	fmt.Fprintf(w, "\tImported as:\t%s\n", m.opsetID)
	for _, prop := range p.MetadataProps {
		fmt.Fprintf(w, "\tMetadata:\t%s=%s\n", prop.Key, prop.Value)
	}
}

func writeValues(w io.Writer, kind string, names []string, shapes []DynamicShape) {
	fmt.Fprintf(w, "\t# %s:\t%d\n", kind, len(names))
	for ii, name := range names {
		fmt.Fprintf(w, "\t\t[#%d] %s: %s\n", ii, name, shapes[ii])
	}
}

func (m *Model) writeGraphSummary(w io.Writer) {
	graph := m.Proto.Graph
	fmt.Fprintf(w, "\t# initializers:\t%d\n", len(graph.Initializer))
	fmt.Fprintf(w, "\t# nodes:\t%d\n", len(graph.Node))

	used := sets.Make[string]()
	for _, node := range graph.Node {
		used.Insert(node.OpType)
	}
	opTypes := sortedKeys(used)
	fmt.Fprintf(w, "\tOp types:\t%s\n", strings.Join(opTypes, ", "))
	missing := slices.DeleteFunc(slices.Clone(opTypes), func(op string) bool {
		_, found := converters[op]
		return found
	})
	if len(missing) > 0 {
		fmt.Fprintf(w, "\tNot importable:\t%s\n", strings.Join(missing, ", "))
	}

	if len(m.Proto.Functions) > 0 {
		functions := sets.Make[string]()
		for _, f := range m.Proto.Functions {
			functions.Insert(f.Name)
		}
		fmt.Fprintf(w, "\tFunctions:\t%s\n", strings.Join(sortedKeys(functions), ", "))
	}
	if len(m.Proto.TrainingInfo) > 0 {
		fmt.Fprintf(w, "\t# training info:\t%d\n", len(m.Proto.TrainingInfo))
	}
}
