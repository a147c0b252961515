package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

type stageStatus struct {
	LastProcessedID int64               `json:"last_processed_id"`
	Processed       int                 `json:"processed"`
	Counters        model.StageCounters `json:"counters"`
	LastRunAt       time.Time           `json:"last_run_at,omitzero"`
}

type streamStatus struct {
	Stream         string                 `json:"stream"`
	LastRunID      int64                  `json:"last_run_id"`
	LastCapturedAt time.Time              `json:"last_captured_at,omitzero"`
	RunsRetained   int                    `json:"runs_retained"`
	LedgerEntries  int64                  `json:"ledger_entries"`
	Stages         map[string]stageStatus `json:"stages"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run history, ledger sizes, and stage cursors",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		var statuses []streamStatus
		for _, stream := range model.AllStreams() {
			s := streamStatus{
				Stream: string(stream),
				Stages: make(map[string]stageStatus),
			}

			runs, err := st.ListRuns(ctx, stream)
			if err != nil {
				return err
			}
			s.RunsRetained = len(runs)
			if len(runs) > 0 {
				last := runs[len(runs)-1]
				s.LastRunID = last.RunID
				s.LastCapturedAt = last.CapturedAt
			}

			s.LedgerEntries, err = st.CountEntries(ctx, stream)
			if err != nil {
				return err
			}

			for _, stage := range []model.Stage{model.StageAnalysis, model.StageDiscovery, model.StageUpload} {
				state, err := st.GetStageState(ctx, stream, stage)
				if err != nil {
					return err
				}
				s.Stages[string(stage)] = stageStatus{
					LastProcessedID: state.LastProcessedID,
					Processed:       len(state.ProcessedIDs),
					Counters:        state.Counters,
					LastRunAt:       state.LastRunAt,
				}
			}
			statuses = append(statuses, s)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
