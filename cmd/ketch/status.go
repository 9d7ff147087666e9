package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show detailed status for one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveTaskID(args[0])
		if err != nil {
			return err
		}
		h, ok := current.reg.Get(id)
		if !ok {
			return fmt.Errorf("task %s not found", id)
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		rec := h.Record()
		state := h.State().Get()

		if jsonOutput {
			data, _ := json.MarshalIndent(struct {
				Record interface{} `json:"record"`
				State  string      `json:"state"`
			}{rec, string(state.Kind)}, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("ID:         %s\n", rec.TaskID)
		fmt.Printf("URL:        %s\n", rec.Request.URL)
		fmt.Printf("Output:     %s\n", rec.OutputPath)
		fmt.Printf("State:      %s\n", state.Kind)
		fmt.Printf("Priority:   %s\n", rec.Request.Priority)
		fmt.Printf("Size:       %s / %s\n", formatSize(rec.DownloadedBytes), formatSize(rec.TotalBytes))
		if rec.AcceptRanges != nil {
			fmt.Printf("Resumable:  %v\n", *rec.AcceptRanges)
		}
		fmt.Printf("Segments:   %d\n", len(rec.Segments))
		if rec.Error != nil {
			fmt.Printf("Error:      %s: %s\n", rec.Error.Kind, rec.Error.Message)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "output as JSON")
}
