// Package cli implements the tripgraph command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the tripgraph command tree.
func NewRootCmd(version string, opts ...Option) *cobra.Command {
	d := newDeps(opts)

	root := &cobra.Command{
		Use:   "tripgraph",
		Short: "Interactive travel itinerary planner",
		Long: "tripgraph plans trips as resumable graph threads: it pauses for your review of the\n" +
			"research subtopics and of the finished plan, and picks up where it left off.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate("tripgraph version {{.Version}}\n")

	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().String("store", "", "Checkpoint store backend: memory | sqlite | mysql | redis")
	root.PersistentFlags().String("log-level", "", "Log level: debug | info | warn | error")

	root.AddCommand(newRunCmd(d))
	root.AddCommand(newFeedbackCmd(d))
	root.AddCommand(newResumeCmd(d))
	root.AddCommand(newHistoryCmd(d))
	root.AddCommand(newThreadsCmd(d))
	return root
}
