package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Cancel and remove a task",
	Long:    `Cancel (if running) and delete the persisted record for a task.`,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clean, _ := cmd.Flags().GetBool("clean")

		if clean {
			return removeCompleted()
		}
		if len(args) == 0 {
			return fmt.Errorf("provide a task id or use --clean")
		}

		id, err := resolveTaskID(args[0])
		if err != nil {
			return err
		}
		if err := current.reg.Remove(id); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
		fmt.Printf("Removed %s\n", shortID(id))
		return nil
	},
}

func removeCompleted() error {
	count := 0
	for _, h := range current.reg.List() {
		rec := h.Record()
		if !rec.State.Terminal() {
			continue
		}
		if err := current.reg.Remove(rec.TaskID); err != nil {
			return fmt.Errorf("removing %s: %w", shortID(rec.TaskID), err)
		}
		count++
	}
	fmt.Printf("Removed %d completed/failed/canceled tasks.\n", count)
	return nil
}

func init() {
	rmCmd.Flags().Bool("clean", false, "remove every completed, failed, or canceled task")
}
