package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	opts := &runOptions{}

	rootCmd := &cobra.Command{
		Use:   "sweepr STATE [MANIFEST]",
		Short: "Queue long-lived cloud resources for deletion",
		Long: `sweepr - stale cloud resource reconciler

sweepr runs awsweeper (or reads a captured listing), remembers when each
resource was first seen in the STATE document, and writes every resource
older than its retention threshold to the MANIFEST. The manifest is
always printed. Nothing is deleted by sweepr itself.

STATE and MANIFEST are local paths or s3://bucket/key locations.`,
		Example: `  sweepr resources.yaml cleanup.yaml                 # Scan and update state
  sweepr resources.yaml --dry-run                    # Only print the manifest
  sweepr resources.yaml --init                       # Start tracking from scratch
  sweepr s3://ops/state.yaml s3://ops/cleanup.yaml   # Keep documents in S3
  sweepr state.yaml --age 7D --age-rule '1h:^ci-'    # Custom retention
  sweepr state.yaml --awsweeper-file capture.yaml    # Use a captured listing
  sweepr state.yaml --interval 1h --metrics-addr :9090  # Keep running`,
		Version:       version,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, args)
		},
	}
	rootCmd.SetVersionTemplate(`sweepr {{.Version}} - stale cloud resource reconciler
`)
	opts.bindFlags(rootCmd)

	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sweepr version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sweepr %s\n", version)
		},
	}
}
