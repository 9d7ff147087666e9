package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		watch, _ := cmd.Flags().GetBool("watch")

		if watch {
			for {
				fmt.Print("\033[H\033[2J")
				printTasks(jsonOutput)
				time.Sleep(1 * time.Second)
			}
		}
		printTasks(jsonOutput)
		return nil
	},
}

type taskRow struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Output     string  `json:"output"`
	State      string  `json:"state"`
	Progress   float64 `json:"progress"`
	Total      int64   `json:"total"`
	Downloaded int64   `json:"downloaded"`
	Speed      float64 `json:"speed"`
}

func printTasks(jsonOutput bool) {
	handles := current.reg.List()
	rows := make([]taskRow, 0, len(handles))
	for _, h := range handles {
		rec := h.Record()
		state := h.State().Get()
		var progress float64
		if state.Progress.Total > 0 {
			progress = float64(state.Progress.Downloaded) * 100 / float64(state.Progress.Total)
		}
		rows = append(rows, taskRow{
			ID:         rec.TaskID,
			URL:        rec.Request.URL,
			Output:     rec.OutputPath,
			State:      string(state.Kind),
			Progress:   progress,
			Total:      state.Progress.Total,
			Downloaded: state.Progress.Downloaded,
			Speed:      state.Progress.BytesPerSec,
		})
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(rows) == 0 {
		fmt.Println("No tasks found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tURL\tSTATE\tPROGRESS\tSPEED\tSIZE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\t%s/s\t%s\n",
			shortID(r.ID), truncate(r.URL, 40), r.State, r.Progress, formatSize(int64(r.Speed)), formatSize(r.Total))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	lsCmd.Flags().Bool("json", false, "output as JSON")
	lsCmd.Flags().Bool("watch", false, "refresh every second")
}
