package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ketch-dl/ketch/internal/ketchtypes"
)

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule <id>",
	Short: "Pause a task and re-gate it behind a new schedule",
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

		after, _ := cmd.Flags().GetDuration("after")
		at, _ := cmd.Flags().GetString("at")

		var schedule ketchtypes.Schedule
		switch {
		case at != "":
			when, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid --at %q, want RFC3339: %w", at, err)
			}
			schedule = ketchtypes.Schedule{Kind: ketchtypes.ScheduleAt, At: when}
		case after > 0:
			schedule = ketchtypes.Schedule{Kind: ketchtypes.ScheduleAfter, After: after}
		default:
			return fmt.Errorf("provide --after or --at")
		}

		h.Reschedule(schedule, nil)
		fmt.Printf("Rescheduled %s\n", shortID(id))
		return nil
	},
}

func init() {
	rescheduleCmd.Flags().Duration("after", 0, "re-admit this long from now")
	rescheduleCmd.Flags().String("at", "", "re-admit at this RFC3339 timestamp")
	rootCmd.AddCommand(rescheduleCmd)
}
