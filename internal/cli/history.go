package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/tripgraph/graph"
	"github.com/dshills/tripgraph/planner"
)

func newHistoryCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the checkpoints of a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			threadID, _ := cmd.Flags().GetString("thread")
			showState, _ := cmd.Flags().GetBool("state")

			a, err := newApp(cmd, d)
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.engine.History(cmd.Context(), threadID)
			if err != nil {
				return a.failure(graph.Result{ThreadID: threadID}, err)
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tSOURCE\tNODE\tSTATUS\tPENDING\tCREATED")
			for _, cp := range history {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					cp.Seq, cp.Source, orDash(cp.Node), cp.Status,
					orDash(pendingNodes(cp)), cp.CreatedAt.UTC().Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return exitError(exitRuntime, "writing history: %v", err)
			}

			if showState {
				fmt.Fprintf(a.out, "\n%s", planner.Render(history[len(history)-1].State))
			}
			return nil
		},
	}

	cmd.Flags().StringP("thread", "t", "", "Thread id")
	cmd.Flags().Bool("state", false, "Also print the latest state as an itinerary")
	_ = cmd.MarkFlagRequired("thread")

	return cmd
}

func newThreadsCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List known threads and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, d)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.engine.Threads(cmd.Context())
			if err != nil {
				return a.failure(graph.Result{}, err)
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "THREAD\tSEQ\tSTATUS\tAWAITING")
			for _, id := range ids {
				res, err := a.engine.State(cmd.Context(), id)
				if err != nil {
					return a.failure(graph.Result{ThreadID: id}, err)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", id, res.Seq, res.Status, orDash(res.Awaiting))
			}
			if err := tw.Flush(); err != nil {
				return exitError(exitRuntime, "writing threads: %v", err)
			}
			return nil
		},
	}
}

func pendingNodes(cp graph.Checkpoint) string {
	nodes := make([]string, 0, len(cp.Pending))
	for _, t := range cp.Pending {
		nodes = append(nodes, t.Node)
	}
	if len(nodes) > 1 && nodes[0] == nodes[len(nodes)-1] {
		return fmt.Sprintf("%s x%d", nodes[0], len(nodes))
	}
	return strings.Join(nodes, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
