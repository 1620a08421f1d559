package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

type outputMode struct {
	json bool
	w    io.Writer
}

func newOutput(jsonOutput bool) outputMode {
	return outputMode{json: jsonOutput, w: os.Stdout}
}

func (o outputMode) printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Fprintln(o.w, string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(o.w, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// formatTemp renders an optional temperature, "-" when unknown.
func formatTemp(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f°C", *v)
}
