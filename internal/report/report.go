// Package report renders the end-of-run summary table.
package report

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/pipeline"
)

// Render writes one row per stage plus uploaded artifacts to w.
func Render(w io.Writer, rep pipeline.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("qacollector " + string(rep.Mode))
	t.AppendHeader(table.Row{"Stage", "Run", "Status", "Reason", "Batches", "Added", "Total", "Duration", "Error"})
	for _, res := range rep.Results {
		reason := string(res.Reason)
		if reason == "" {
			reason = "-"
		}
		errText := "-"
		if res.Err != nil {
			errText = res.Err.Error()
		}
		runID := res.RunID
		if runID == "" {
			runID = "-"
		}
		t.AppendRow(table.Row{
			res.Stage,
			runID,
			string(res.Status),
			reason,
			res.Batches,
			res.Added,
			res.Total,
			res.Duration.Round(1e6).String(),
			errText,
		})
	}
	if len(rep.Uploads) > 0 {
		t.AppendSeparator()
		for _, uri := range rep.Uploads {
			t.AppendRow(table.Row{"upload", "-", uri})
		}
	}
	if rep.UploadErr != nil {
		t.AppendFooter(table.Row{"upload errors", "", rep.UploadErr.Error()})
	}
	t.Render()
}
