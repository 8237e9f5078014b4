// Command coredb is the operator-facing entry point for the recovery
// subsystem: forcing a checkpoint, running restart recovery against a log
// left behind by a crashed process, and serving the process's Prometheus
// metrics. Modeled on the pack's cobra-based database tools (pebble's
// cmd/pebble, tinykv's pdctl): a root command with flag-bearing
// subcommands, no interactive shell.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coredb/pkg/concurrency/transaction"
	"coredb/pkg/config"
	"coredb/pkg/log"
	"coredb/pkg/logging"
	"coredb/pkg/metrics"
	"coredb/pkg/recovery"
)

var logDir string

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.Init(logger)

	cobra.EnableCommandSorting = false

	root := &cobra.Command{
		Use:   "coredb",
		Short: "recovery-log maintenance tool",
	}
	root.PersistentFlags().StringVar(&logDir, "log", ".", "write-ahead log directory")
	root.AddCommand(checkpointCmd, restartCmd, serveMetricsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openRecoveryManager opens the log at --log and wraps it in a recovery
// manager backed by nullStore: this tool only ever drives the log and the
// in-memory DPT/XT, never a real buffer pool, since the page store is an
// external collaborator this module does not implement (§1).
func openRecoveryManager() (*recovery.Manager, error) {
	cfg := config.Default()
	cfg.LogDir = logDir

	logMgr, err := log.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	factory := func(txnID int64) transaction.Handle {
		return &cliHandle{SimpleHandle: transaction.NewSimpleHandle(), txnID: txnID}
	}

	store := nullStore{}
	return recovery.NewManager(cfg, logMgr, store, store, factory), nil
}

// cliHandle overrides SimpleHandle's freshly-allocated id so a transaction
// reconstructed by restart_analysis carries the exact id its log records
// name, rather than a new process-unique one.
type cliHandle struct {
	*transaction.SimpleHandle
	txnID int64
}

func (h *cliHandle) TransNum() int64 { return h.txnID }

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "force a checkpoint onto the log",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openRecoveryManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Checkpoint(); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		fmt.Println("checkpoint written")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "run ARIES analysis/redo/undo against the log and take a fresh checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openRecoveryManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Restart(); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
		fmt.Println("restart complete")
		return nil
	},
}

var metricsAddr string

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "serve this process's Prometheus metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		logging.Get().Info("serving metrics", zap.String("addr", metricsAddr))
		return http.ListenAndServe(metricsAddr, mux)
	},
}

func init() {
	serveMetricsCmd.Flags().StringVar(&metricsAddr, "addr", "localhost:9090", "address to serve metrics on")
}
