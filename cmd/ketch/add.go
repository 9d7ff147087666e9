package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ketch-dl/ketch/internal/ketchtypes"
	"github.com/ketch-dl/ketch/internal/registry"
)

var addCmd = &cobra.Command{
	Use:     "add <url>",
	Aliases: []string{"get"},
	Short:   "Add a download and wait for it to finish",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawURL := args[0]

		connections, _ := cmd.Flags().GetInt("connections")
		destination, _ := cmd.Flags().GetString("destination")
		priorityFlag, _ := cmd.Flags().GetString("priority")
		speedLimit, _ := cmd.Flags().GetInt64("limit")
		headerFlags, _ := cmd.Flags().GetStringArray("header")
		after, _ := cmd.Flags().GetDuration("after")
		noWait, _ := cmd.Flags().GetBool("no-wait")

		priority, err := parsePriority(priorityFlag)
		if err != nil {
			return err
		}

		headers := make(map[string]string, len(headerFlags))
		for _, h := range headerFlags {
			k, v, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid --header %q, want Name:Value", h)
			}
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}

		req := ketchtypes.DownloadRequest{
			URL:         rawURL,
			Destination: destination,
			Connections: connections,
			Headers:     headers,
			Priority:    priority,
			SpeedLimit:  ketchtypes.SpeedLimit{BytesPerSec: speedLimit},
		}.Normalized()
		if after > 0 {
			req.Schedule = ketchtypes.Schedule{Kind: ketchtypes.ScheduleAfter, After: after}
		}

		h, err := current.reg.Enqueue(req)
		if err != nil {
			return fmt.Errorf("enqueuing %s: %w", rawURL, err)
		}
		fmt.Printf("Queued %s as task %s\n", rawURL, h.TaskID())

		if noWait {
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		return awaitWithProgress(ctx, h)
	},
}

func awaitWithProgress(ctx context.Context, h *registry.Handle) error {
	sub := h.State().Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			h.Pause()
			return fmt.Errorf("interrupted: %w", ctx.Err())
		case s := <-sub.C():
			switch s.Kind {
			case ketchtypes.DSCompleted:
				fmt.Printf("\nComplete: %s\n", s.FilePath)
				return nil
			case ketchtypes.DSFailed:
				rec := h.Record()
				if rec.Error != nil {
					return fmt.Errorf("download failed: %s: %s", rec.Error.Kind, rec.Error.Message)
				}
				return fmt.Errorf("download failed")
			case ketchtypes.DSCanceled:
				return fmt.Errorf("download canceled")
			default:
				printProgress(s)
			}
		}
	}
}

func printProgress(s ketchtypes.DownloadState) {
	p := s.Progress
	if p.Total > 0 {
		percent := float64(p.Downloaded) * 100 / float64(p.Total)
		fmt.Printf("\r%-11s %5.1f%%  %s / %s  %s/s  (%d conn)   ",
			s.Kind, percent, formatSize(p.Downloaded), formatSize(p.Total),
			formatSize(int64(p.BytesPerSec)), p.ActiveConnections)
	} else {
		fmt.Printf("\r%-11s %s  %s/s  (%d conn)   ",
			s.Kind, formatSize(p.Downloaded), formatSize(int64(p.BytesPerSec)), p.ActiveConnections)
	}
}

func parsePriority(s string) (ketchtypes.Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NORMAL":
		return ketchtypes.PriorityNormal, nil
	case "LOW":
		return ketchtypes.PriorityLow, nil
	case "HIGH":
		return ketchtypes.PriorityHigh, nil
	case "URGENT":
		return ketchtypes.PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("invalid --priority %q: want LOW, NORMAL, HIGH, or URGENT", s)
	}
}

func init() {
	addCmd.Flags().IntP("connections", "c", 4, "number of connections to split the download across")
	addCmd.Flags().StringP("destination", "d", "", "output directory, file path, or bare filename")
	addCmd.Flags().String("priority", "NORMAL", "LOW, NORMAL, HIGH, or URGENT")
	addCmd.Flags().Int64("limit", 0, "per-task speed limit in bytes/sec (0 = unlimited)")
	addCmd.Flags().StringArray("header", nil, "extra request header as Name:Value (repeatable)")
	addCmd.Flags().Duration("after", 0, "delay admission until this long after the download is added")
	addCmd.Flags().Bool("no-wait", false, "queue the download and return immediately")
}
