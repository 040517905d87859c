package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionSummary is printed when a captain or crew session ends.
type SessionSummary struct {
	Role     string
	RoomID   string
	Status   string
	Duration string
	Peers    int

	// Captain
	Ticks uint64
	Sent  uint64

	// Crew
	Received uint64
	Dropped  uint64
	Latency  string

	Rate string
}

// SessionSummaryTable builds the go-pretty table for summary.
func SessionSummaryTable(title string, summary SessionSummary) table.Writer {
	tw := table.NewWriter()
	tw.SetTitle(title)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Title.Align = text.AlignCenter
	tw.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	tw.AppendHeader(table.Row{"Metric", "Value"})

	tw.AppendRows([]table.Row{
		{"Role", summary.Role},
		{"Room", summary.RoomID},
		{"Status", summary.Status},
		{"Duration", summary.Duration},
		{"Peers", summary.Peers},
	})
	if summary.Role == "captain" {
		tw.AppendRows([]table.Row{
			{"Snapshots", summary.Ticks},
			{"Deliveries", summary.Sent},
		})
	} else {
		tw.AppendRows([]table.Row{
			{"Received", summary.Received},
			{"Dropped", summary.Dropped},
			{"Last latency", summary.Latency},
		})
	}
	tw.AppendRow(table.Row{"Rate", summary.Rate})
	return tw
}

func WriteSessionSummary(w io.Writer, title string, summary SessionSummary) {
	tw := SessionSummaryTable(title, summary)
	tw.SetOutputMirror(w)
	tw.Render()
}

func RenderSessionSummary(title string, summary SessionSummary) {
	fmt.Println()
	WriteSessionSummary(os.Stdout, title, summary)
}
