package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/inbox-pipeline/internal/discover"
	"github.com/sells-group/inbox-pipeline/internal/enrich"
)

var enrichStream string

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run the analysis and discovery stages on pending ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		streams, err := parseStreams(enrichStream)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, nil, false)
		if err != nil {
			return err
		}
		defer e.Close()

		type streamOutcome struct {
			Stream    string          `json:"stream"`
			Analysis  enrich.Result   `json:"analysis"`
			Discovery discover.Result `json:"discovery"`
		}
		var outcomes []streamOutcome

		for _, s := range streams {
			analysis, err := e.Analyzer.Run(ctx, s)
			if err != nil {
				return err
			}
			discovery, err := e.Searcher.Run(ctx, s)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, streamOutcome{
				Stream:    string(s),
				Analysis:  analysis,
				Discovery: discovery,
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichStream, "stream", "", "stream to process: messages, message_requests, or both when omitted")
	rootCmd.AddCommand(enrichCmd)
}
