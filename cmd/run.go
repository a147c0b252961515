package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inbox-pipeline/internal/capture"
)

var (
	runStream   string
	runSnapshot string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline for one or both streams",
	Long:  "Captures conversations from a snapshot file, compares them with the previous run, appends changes to the ledger, uploads them, and runs the enrichment stages.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		streams, err := parseStreams(runStream)
		if err != nil {
			return err
		}

		source := capture.NewSnapshotSource(runSnapshot)
		e, err := initEnv(ctx, source, true)
		if err != nil {
			return err
		}
		defer e.Close()

		results, err := e.Pipeline.Run(ctx, streams...)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	runCmd.Flags().StringVar(&runStream, "stream", "", "stream to process: messages, message_requests, or both when omitted")
	runCmd.Flags().StringVar(&runSnapshot, "snapshot", "", "capture snapshot file (required)")
	_ = runCmd.MarkFlagRequired("snapshot")
	rootCmd.AddCommand(runCmd)
}
