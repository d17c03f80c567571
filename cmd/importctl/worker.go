package main

import (
	"github.com/spf13/cobra"

	"github.com/sarir/personnel-import/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run one decode command read from stdin",
		Long: `Read a single JSON decode command from stdin, decode it and write the
progress, parsed and error messages to stdout as JSON lines.

Example: echo '{"type":"parse-text","payload":{"text":"a,b\n1,2","isTSV":false}}' | importctl worker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
