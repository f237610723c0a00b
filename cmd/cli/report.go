package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"exercise-runner/internal/execution"
	"exercise-runner/internal/grading"
	"exercise-runner/internal/submission"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
	infoColor = color.New(color.FgCyan)
)

func printResult(w io.Writer, res execution.Result) {
	if !res.Success {
		failColor.Fprintln(w, "✗ error")
		fmt.Fprintln(w, res.ErrorText())
		return
	}

	if out := res.OutputText(); out != "" {
		fmt.Fprint(w, out)
	}
	for _, set := range res.Result {
		fmt.Fprintln(w, dimColor.Sprint(set.Columns))
		for _, row := range set.Values {
			fmt.Fprintln(w, row)
		}
	}
	switch {
	case res.Message != "":
		passColor.Fprintln(w, "✓ "+res.Message)
	case res.RowsAffected != nil:
		passColor.Fprintf(w, "✓ %d row(s) affected\n", *res.RowsAffected)
	}
}

func printReport(w io.Writer, report grading.Report) {
	if !report.Success {
		failColor.Fprintln(w, "✗ code failed before the checks ran")
		fmt.Fprintln(w, report.Error)
		return
	}

	for _, r := range report.Results {
		if r.Passed {
			passColor.Fprint(w, "✓ ")
			fmt.Fprintln(w, r.Name)
			continue
		}
		failColor.Fprint(w, "✗ ")
		fmt.Fprintln(w, r.Name)
		if r.Error != "" {
			dimColor.Fprintf(w, "    error: %s\n", r.Error)
			continue
		}
		dimColor.Fprintf(w, "    expected: %s\n", grading.Display(r.Expected))
		dimColor.Fprintf(w, "    got:      %s\n", grading.Display(r.Got))
	}

	summary := fmt.Sprintf("%d/%d passed, score %d", report.Passed(), len(report.Results), report.Score())
	if report.AllPassed {
		passColor.Fprintln(w, summary)
	} else {
		failColor.Fprintln(w, summary)
	}
}

func printSubmission(w io.Writer, resp submission.Response) {
	if !resp.Success() {
		failColor.Fprintf(w, "✗ submission failed: %s\n", resp.Error())
		return
	}
	infoColor.Fprintf(w, "attempt recorded: +%v XP, total %v, level %v\n", resp["xp_awarded"], resp["total_xp"], resp["level"])
}

func printHint(w io.Writer, resp submission.Response) {
	if !resp.Success() {
		failColor.Fprintf(w, "✗ hint unavailable: %s\n", resp.Error())
		return
	}
	content, _ := resp["content"].(string)
	fmt.Fprintln(w, content)
	if used, _ := resp["already_used"].(bool); used {
		dimColor.Fprintln(w, "already revealed, no XP spent")
		return
	}
	infoColor.Fprintf(w, "-%v XP, %v left\n", resp["xp_cost"], resp["remaining_xp"])
}
