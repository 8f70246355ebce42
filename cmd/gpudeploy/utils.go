package main

import (
	"fmt"
	"strings"

	"github.com/AccessibleAI/gpu-deploy/pkg/jobname"
	"github.com/atomicgo/cursor"
	"github.com/jedib0t/go-pretty/v6/table"
)

type TableOutput struct {
	data         []byte
	header       table.Row
	footer       table.Row
	body         []table.Row
	lastPosition int
}

func (o *TableOutput) rowsCount() int {
	return strings.Count(string(o.data), "\n")
}

func (o *TableOutput) Write(data []byte) (n int, err error) {
	o.data = append(o.data, data...)
	return len(data), nil
}

func (o *TableOutput) print() {
	if o.lastPosition > 0 {
		cursor.ClearLinesUp(o.lastPosition)
	}
	fmt.Printf("%s", o.data)
	o.lastPosition = o.rowsCount()
}

func (o *TableOutput) buildTable() {
	o.data = nil
	rowConfigAutoMerge := table.RowConfig{AutoMerge: true}
	t := table.NewWriter()
	t.SetOutputMirror(o)
	t.AppendHeader(o.header, rowConfigAutoMerge)
	t.AppendRows(o.body, rowConfigAutoMerge)
	t.SetStyle(table.StyleColoredGreenWhiteOnBlack)
	if o.footer != nil {
		t.AppendFooter(o.footer)
	}
	t.Render()
}

func formatIndexes(indexes []int) string {
	if len(indexes) == 0 {
		return "-"
	}
	var s []string
	for _, i := range indexes {
		s = append(s, fmt.Sprintf("%d", i))
	}
	return strings.Join(s, ",")
}

// formatJobName splits names created by deploy into script and devices.
func formatJobName(name string) (script, devices string) {
	p, err := jobname.Decode(name)
	if err != nil {
		return "-", "-"
	}
	script = p.Script
	if script == "" {
		script = jobname.NotebookSegment
	}
	if !p.GPU {
		return script, "none"
	}
	return script, formatIndexes(p.Devices)
}

func shortId(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
