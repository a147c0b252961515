package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-pipeline/internal/capture"
	"github.com/sells-group/inbox-pipeline/internal/model"
)

var (
	servePort     int
	serveSnapshot string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server that triggers pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		source := capture.NewSnapshotSource(serveSnapshot)
		e, err := initEnv(ctx, source, true)
		if err != nil {
			return err
		}
		defer e.Close()

		// One run at a time; the pipeline is strictly sequential.
		var busy atomic.Bool

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
			type stream struct {
				Stream        string `json:"stream"`
				LastRunID     int64  `json:"last_run_id"`
				LedgerEntries int64  `json:"ledger_entries"`
			}
			var out []stream
			for _, s := range model.AllStreams() {
				entry := stream{Stream: string(s)}
				if run, err := e.Store.LastRun(r.Context(), s); err == nil && run != nil {
					entry.LastRunID = run.RunID
				}
				entry.LedgerEntries, _ = e.Store.CountEntries(r.Context(), s)
				out = append(out, entry)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(out)
		})

		mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Stream string `json:"stream"`
			}
			if r.Body != nil {
				_ = json.NewDecoder(r.Body).Decode(&req)
			}

			streams, err := parseStreams(req.Stream)
			if err != nil {
				http.Error(w, `{"error":"unknown stream"}`, http.StatusBadRequest)
				return
			}

			if !busy.CompareAndSwap(false, true) {
				http.Error(w, `{"error":"run already in progress"}`, http.StatusConflict)
				return
			}

			go func() {
				defer busy.Store(false)
				results, err := e.Pipeline.Run(ctx, streams...)
				if err != nil {
					zap.L().Error("triggered run failed", zap.Error(err))
					return
				}
				for _, res := range results {
					zap.L().Info("triggered run finished",
						zap.String("stream", string(res.Stream)),
						zap.Int64("run_id", res.RunID),
						zap.Int("appended", res.Appended))
				}
			}()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveSnapshot, "snapshot", "", "capture snapshot file read on every triggered run (required)")
	_ = serveCmd.MarkFlagRequired("snapshot")
	rootCmd.AddCommand(serveCmd)
}
