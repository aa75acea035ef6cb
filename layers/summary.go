package layers

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// WriteSummary renders the compiled model as a table.
func (ms *ModelSpec) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "Model: %s\n", ms.Name)
	fmt.Fprintf(w, "Input Shape: %v\n", ms.InputShape)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"LAYER", "TYPE", "OUTPUT SHAPE", "PARAMS", "CONFIG"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	var data [][]string
	for _, l := range ms.Layers {
		data = append(data, []string{
			l.Name,
			l.Type.String(),
			fmt.Sprint(l.OutputShape),
			fmt.Sprint(l.ParameterCount),
			formatConfig(l.Parameters),
		})
	}
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(w, "Total Parameters: %d (trainable %d)\n", ms.TotalParameters, ms.TrainableParameters)
}

// Summary returns WriteSummary's output as a string.
func (ms *ModelSpec) Summary() string {
	var sb strings.Builder
	ms.WriteSummary(&sb)
	return sb.String()
}

func formatConfig(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}
