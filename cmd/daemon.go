package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-pipeline/internal/capture"
)

var daemonSnapshot string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the scheduled pipeline daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the pipeline on an interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if pid, running := daemonPID(); running {
			return eris.Errorf("daemon already running (pid %d)", pid)
		}
		if err := writePIDFile(); err != nil {
			return err
		}
		defer os.Remove(cfg.Daemon.PIDFile)

		source := capture.NewSnapshotSource(daemonSnapshot)
		e, err := initEnv(ctx, source, true)
		if err != nil {
			return err
		}
		defer e.Close()

		runOnce := func() {
			results, err := e.Pipeline.Run(ctx)
			if err != nil {
				zap.L().Error("scheduled run failed", zap.Error(err))
				return
			}
			for _, r := range results {
				zap.L().Info("scheduled run finished",
					zap.String("stream", string(r.Stream)),
					zap.Int64("run_id", r.RunID),
					zap.Int("appended", r.Appended))
			}
		}

		c := cron.New()
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.Daemon.Interval), runOnce); err != nil {
			return eris.Wrap(err, "schedule pipeline")
		}

		zap.L().Info("daemon started",
			zap.Int("pid", os.Getpid()),
			zap.Duration("interval", cfg.Daemon.Interval))

		runOnce()
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()

		zap.L().Info("daemon stopped")
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running daemon to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, running := daemonPID()
		if !running {
			return eris.New("daemon is not running")
		}
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return eris.Wrapf(err, "signal pid %d", pid)
		}
		fmt.Printf("sent SIGTERM to pid %d\n", pid)
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, running := daemonPID(); running {
			fmt.Printf("running (pid %d)\n", pid)
		} else {
			fmt.Println("not running")
		}
		return nil
	},
}

// daemonPID reads the PID file and checks the process is alive. A stale file
// from a crashed daemon reports not running.
func daemonPID() (int, bool) {
	data, err := os.ReadFile(cfg.Daemon.PIDFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, false
	}
	return pid, true
}

func writePIDFile() error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(cfg.Daemon.PIDFile, []byte(pid+"\n"), 0o644); err != nil {
		return eris.Wrap(err, "write pid file")
	}
	return nil
}

func init() {
	daemonStartCmd.Flags().StringVar(&daemonSnapshot, "snapshot", "", "capture snapshot file read on every scheduled run (required)")
	_ = daemonStartCmd.MarkFlagRequired("snapshot")
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}
