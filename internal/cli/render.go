package cli

import (
	"fmt"
	"strconv"

	"github.com/uprootiny/manicctl/internal/commute"
	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/panel"
)

func planTable(f *output.Formatter, steps []commute.Step) {
	if len(steps) == 0 {
		f.Textln("  (no enabled targets)")
		return
	}
	t := f.Table("TARGET", "LANE", "FLUENCY", "STRATEGY", "REASON")
	for _, s := range steps {
		t.AddRow(s.Target, s.Lane.String(), strconv.Itoa(s.Fluency)+"%", string(s.Strategy), output.Truncate(s.Reason, 48))
	}
	t.Render()
}

func resultLine(r *panel.Result) string {
	if r == nil {
		return "-"
	}
	if r.Summary != "" {
		return fmt.Sprintf("HTTP %d %s", r.StatusCode, r.Summary)
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}

func stepResultTable(f *output.Formatter, steps []orchestrator.StepResult) {
	t := f.Table("TARGET", "STRATEGY", "RESULT")
	for _, sr := range steps {
		res := resultLine(sr.Result)
		if sr.Error != "" {
			res = "failed: " + output.Truncate(sr.Error, 60)
		} else if sr.Smoke != nil {
			res += ", smoke " + resultLine(sr.Smoke)
		}
		t.AddRow(sr.Step.Target, string(sr.Step.Strategy), res)
	}
	t.Render()
}

// resultView is the output of a single mutating call.
type resultView struct {
	Route  string        `json:"route"`
	Target string        `json:"target,omitempty"`
	Result *panel.Result `json:"result"`
}

func (v resultView) Text(f *output.Formatter) error {
	label := v.Route
	if v.Target != "" {
		label += " -> " + v.Target
	}
	f.Textln("%s %s", f.Styles().OK.Render("OK"), label)
	if v.Result != nil {
		f.KV("status", v.Result.StatusCode)
		if v.Result.Summary != "" {
			f.KV("summary", v.Result.Summary)
		}
	}
	return nil
}

func (v resultView) JSON() interface{} { return v }
