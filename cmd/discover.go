package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/inbox-pipeline/internal/discover"
)

var discoverStream string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run only the website/LinkedIn discovery stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		streams, err := parseStreams(discoverStream)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, nil, false)
		if err != nil {
			return err
		}
		defer e.Close()

		results := make(map[string]discover.Result, len(streams))
		for _, s := range streams {
			res, err := e.Searcher.Run(ctx, s)
			if err != nil {
				return err
			}
			results[string(s)] = res
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverStream, "stream", "", "stream to process: messages, message_requests, or both when omitted")
	rootCmd.AddCommand(discoverCmd)
}
