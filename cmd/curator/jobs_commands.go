package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/ipc"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the durable job queue",
	}

	jobsCmd.AddCommand(newJobsDeadLetterCommand(ctx))
	jobsCmd.AddCommand(newJobsRequeueCommand(ctx))
	jobsCmd.AddCommand(newJobsClearDoneCommand(ctx))

	return jobsCmd
}

func newJobsDeadLetterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letter",
		Short: "List jobs parked in the dead-letter registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DeadLetter()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(stdout, "Dead-letter registry is empty")
					return nil
				}
				rows := make([][]string, 0, len(resp.Jobs))
				for _, job := range resp.Jobs {
					rows = append(rows, []string{
						job.ID,
						job.Queue,
						job.ItemID,
						strconv.Itoa(job.Attempt),
						truncate(job.Error, 60),
						job.UpdatedAt,
					})
				}
				table := renderTable(
					[]string{"Job", "Queue", "Item", "Attempt", "Error", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}
}

func newJobsRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Move a dead job back to the queue for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Requeue(jobID)
				if err != nil {
					return err
				}
				if resp.Requeued {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s requeued\n", jobID)
				}
				return nil
			})
		},
	}
}

func newJobsClearDoneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear-done",
		Short: "Remove completed job rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ClearDone(olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed job(s)\n", resp.Removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove jobs completed at least this long ago (e.g. 24h)")
	return cmd
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
