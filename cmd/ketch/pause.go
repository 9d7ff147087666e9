package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a task",
	Long:  `Pause a task by id. Use --all to pause every live task.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("provide a task id or use --all")
		}

		if all {
			for _, h := range current.reg.List() {
				h.Pause()
			}
			fmt.Println("Paused all tasks.")
			return nil
		}

		id, err := resolveTaskID(args[0])
		if err != nil {
			return err
		}
		h, ok := current.reg.Get(id)
		if !ok {
			return fmt.Errorf("task %s not found", id)
		}
		h.Pause()
		fmt.Printf("Paused %s\n", shortID(id))
		return nil
	},
}

func init() {
	pauseCmd.Flags().Bool("all", false, "pause every live task")
}
