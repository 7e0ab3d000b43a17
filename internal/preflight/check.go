// Package preflight probes the machine before a deployment and renders a
// pass/warn/fail report. Warnings never block; any failure does.
package preflight

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// Level is a check outcome severity.
type Level int

const (
	Pass Level = iota
	Warn
	Fail
)

func (l Level) String() string {
	switch l {
	case Pass:
		return "PASS"
	case Warn:
		return "WARN"
	default:
		return "FAIL"
	}
}

// Result is one check outcome.
type Result struct {
	Name   string
	Level  Level
	Detail string
}

// Report collects results in check order.
type Report struct {
	Results []Result
}

func (r *Report) add(name string, level Level, format string, args ...any) {
	r.Results = append(r.Results, Result{
		Name:   name,
		Level:  level,
		Detail: fmt.Sprintf(format, args...),
	})
}

// Failed reports whether any check failed hard.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Level == Fail {
			return true
		}
	}
	return false
}

func (r *Report) count(level Level) int {
	n := 0
	for _, res := range r.Results {
		if res.Level == level {
			n++
		}
	}
	return n
}

// Summary is the one-line verdict printed under the table.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d passed, %d warnings, %d failed",
		r.count(Pass), r.count(Warn), r.count(Fail))
}

// Render prints the report as a borderless table.
func (r *Report) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"STATUS", "CHECK", "DETAIL"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("  ")
	for _, res := range r.Results {
		table.Append([]string{res.Level.String(), res.Name, res.Detail})
	}
	table.Render()
	fmt.Fprintln(w)
	fmt.Fprintln(w, r.Summary())
}
