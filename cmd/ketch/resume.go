package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused task",
	Long:  `Resume a paused task by id. Use --all to resume every paused task.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("provide a task id or use --all")
		}

		if all {
			for _, h := range current.reg.List() {
				h.Resume()
			}
			fmt.Println("Resumed all paused tasks.")
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
		h.Resume()
		fmt.Printf("Resumed %s\n", shortID(id))
		return nil
	},
}

func init() {
	resumeCmd.Flags().Bool("all", false, "resume every paused task")
}
