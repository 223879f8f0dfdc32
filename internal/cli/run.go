package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/tripgraph/graph"
	"github.com/dshills/tripgraph/graph/store"
	"github.com/dshills/tripgraph/planner"
)

func newRunCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan a trip, asking for feedback at every review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, d)
		},
	}

	cmd.Flags().StringP("query", "q", "", "Travel request text")
	cmd.Flags().StringP("file", "f", "", "Read the travel request from a text file")
	cmd.Flags().StringP("thread", "t", "", "Thread id (default: a new UUID)")

	return cmd
}

func runRun(cmd *cobra.Command, d *deps) error {
	query, err := readRequest(cmd)
	if err != nil {
		return err
	}

	threadID, _ := cmd.Flags().GetString("thread")
	if threadID == "" {
		threadID = uuid.NewString()
	}

	a, err := newApp(cmd, d)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(a.out, "Thread %s\n", threadID)
	res, err := a.engine.Start(cmd.Context(), threadID, planner.NewInput(query))
	return a.interact(cmd.Context(), res, err)
}

// readRequest returns the travel request from --query or --file.
func readRequest(cmd *cobra.Command) (string, error) {
	query, _ := cmd.Flags().GetString("query")
	path, _ := cmd.Flags().GetString("file")

	switch {
	case query != "" && path != "":
		return "", exitError(exitUsage, "--query and --file are mutually exclusive")
	case path != "":
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", exitError(exitNotFound, "request file not found: %s", path)
		}
		if err != nil {
			return "", exitError(exitInputParse, "reading request file: %v", err)
		}
		query = string(data)
	case query == "":
		return "", exitError(exitUsage, "a travel request is required (--query or --file)")
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return "", exitError(exitInputParse, "travel request is empty")
	}
	return query, nil
}

func newFeedbackCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Answer a paused review and continue the thread",
		Long: "Answer the review a thread is paused at and resume it until the next pause.\n" +
			"An empty --text, or an approving answer such as \"ok\", accepts the reviewed artifact.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			threadID, _ := cmd.Flags().GetString("thread")
			node, _ := cmd.Flags().GetString("node")
			text, _ := cmd.Flags().GetString("text")

			a, err := newApp(cmd, d)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.answer(cmd.Context(), threadID, node, text)
			return a.finish(res, err)
		},
	}

	cmd.Flags().StringP("thread", "t", "", "Thread id")
	cmd.Flags().StringP("node", "n", "", "Review node the thread is paused at")
	cmd.Flags().String("text", "", "Feedback text")
	_ = cmd.MarkFlagRequired("thread")
	_ = cmd.MarkFlagRequired("node")

	return cmd
}

func newResumeCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a thread from its latest checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			threadID, _ := cmd.Flags().GetString("thread")

			a, err := newApp(cmd, d)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Resume(cmd.Context(), threadID)
			return a.interact(cmd.Context(), res, err)
		},
	}

	cmd.Flags().StringP("thread", "t", "", "Thread id")
	_ = cmd.MarkFlagRequired("thread")

	return cmd
}

// interact prompts for feedback on stdin at every pause until the thread
// completes, fails, or stdin runs out.
func (a *app) interact(ctx context.Context, res graph.Result, err error) error {
	in := bufio.NewReader(a.stdin)
	for err == nil && res.Status == store.StatusAwaitingInterrupt {
		fmt.Fprintf(a.out, "\n%s\nFeedback (empty to accept): ", planner.RenderReview(res.State, res.Awaiting))

		line, readErr := in.ReadString('\n')
		if readErr != nil && line == "" {
			fmt.Fprintln(a.out)
			if !errors.Is(readErr, io.EOF) {
				return exitError(exitRuntime, "reading feedback: %v", readErr)
			}
			a.paused(res)
			return nil
		}
		res, err = a.answer(ctx, res.ThreadID, res.Awaiting, line)
	}
	return a.finish(res, err)
}

// answer records feedback for the review node and resumes the thread.
func (a *app) answer(ctx context.Context, threadID, node, text string) (graph.Result, error) {
	var patch graph.State
	if text = strings.TrimSpace(text); text != "" {
		field, ok := planner.FeedbackField(node)
		if !ok {
			return graph.Result{}, exitError(exitUsage, "%s is not a review node (want %s or %s)",
				node, planner.NodeReviewTopics, planner.NodeReviewPlan)
		}
		patch = graph.State{field: text}
	}

	if _, err := a.engine.UpdateState(ctx, threadID, patch, node); err != nil {
		return graph.Result{}, err
	}
	a.logger.Debug("feedback recorded", "thread", threadID, "node", node, "accepted", text == "")
	return a.engine.Resume(ctx, threadID)
}

// finish prints the outcome of a call and maps failures to exit codes.
func (a *app) finish(res graph.Result, err error) error {
	if err != nil {
		return a.failure(res, err)
	}

	switch res.Status {
	case store.StatusCompleted:
		fmt.Fprintf(a.out, "\n%s", planner.Render(res.State))
	case store.StatusAwaitingInterrupt:
		fmt.Fprintf(a.out, "\n%s\n", planner.RenderReview(res.State, res.Awaiting))
		a.paused(res)
	}
	return nil
}

func (a *app) paused(res graph.Result) {
	fmt.Fprintf(a.out, "Thread %s is paused at %s.\nAnswer with: tripgraph feedback --thread %s --node %s --text \"...\"\n",
		res.ThreadID, res.Awaiting, res.ThreadID, res.Awaiting)
}

func (a *app) failure(res graph.Result, err error) error {
	var (
		exitErr  *ExitError
		nodeErr  *graph.NodeExecutionError
		fanErr   *graph.FanOutPartialFailure
		protoErr *graph.InterruptProtocolError
	)
	switch {
	case errors.As(err, &exitErr):
		return exitErr
	case errors.Is(err, graph.ErrThreadNotFound):
		return exitError(exitNotFound, "%v", err)
	case errors.Is(err, graph.ErrThreadExists):
		return exitError(exitUsage, "%v", err)
	case errors.As(err, &protoErr):
		return exitError(exitInterrupt, "%v", err)
	case errors.As(err, &nodeErr), errors.As(err, &fanErr):
		a.logger.Error("step failed", "thread", res.ThreadID, "node", res.Node, "error", err)
		return exitError(exitRuntime, "%v\nRetry with: tripgraph resume --thread %s", err, res.ThreadID)
	default:
		return exitError(exitRuntime, "%v", err)
	}
}
