package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mkatan/inkwell/internal/config"
	"github.com/mkatan/inkwell/internal/history"
	"github.com/mkatan/inkwell/internal/storage"
)

var ctx = context.Background()

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show inkwell system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}

	resp, err := healthClient.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var status storage.Status
		if err := client.get(ctx, "/status", &status); err == nil {
			printStatus("Raw files", "%d", status.RawFiles)
			printStatus("Processed files", "%d", status.ProcessedFiles)
			printStatus("Pending", "%d", status.PendingFiles)
			printStatus("Tracked documents", "%d", status.TrackedDocuments)
			if status.MetadataHealthy {
				printStatus("Metadata", "healthy")
			} else {
				printWarning("metadata file is corrupt; run `inkwell reconcile` to rebuild")
			}
		}

		var runs []history.Run
		if err := client.get(ctx, "/runs?limit=1", &runs); err == nil && len(runs) > 0 {
			printStatus("Last reconcile", "%s (%d files)", runs[0].FinishedAt.Format(time.RFC3339), runs[0].FilesSeen)
		}
	}

	printStatus("Raw dir", "%s", cfg.Storage.RawDir)
	printStatus("Processed dir", "%s", cfg.Storage.ProcessedDir)
	printStatus("Index dir", "%s", cfg.Storage.IndexDir)
	return nil
}

// --- reconcile ---

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-scan the raw directory and update document metadata",
	Long: `Re-scan the raw directory and update document metadata.

Goes through the running server when one is up; otherwise opens the
storage directly and reconciles locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcileCommand()
	},
}

type reconcileResponse struct {
	FilesSeen int  `json:"files_seen"`
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Removed   int  `json:"removed"`
	Saved     bool `json:"saved"`
}

func runReconcileCommand() error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var resp reconcileResponse
	if err := client.post(ctx, "/reconcile", nil, &resp); err == nil {
		printSuccess("Reconcile complete: %d files seen, %d created, %d updated, %d removed",
			resp.FilesSeen, resp.Created, resp.Updated, resp.Removed)
		return nil
	}

	printStep("server not running, reconciling locally")
	return reconcileLocal()
}

func reconcileLocal() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.EnsureDirs(cfg); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.RawDir, cfg.Storage.ProcessedDir, cfg.Storage.IndexDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	hist, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening history log: %w", err)
	}
	defer hist.Close()

	started := time.Now().UTC()
	report, err := store.Reconcile()
	finished := time.Now().UTC()

	run := history.Run{
		ID:         uuid.New().String(),
		StartedAt:  started,
		FinishedAt: finished,
		FilesSeen:  report.FilesSeen,
		Created:    report.Created,
		Updated:    report.Updated,
		Removed:    report.Removed,
		Saved:      report.Saved,
		Source:     "cli",
	}
	if err != nil {
		run.Error = err.Error()
	}
	if recErr := hist.RecordRun(run); recErr != nil {
		printWarning("could not record reconcile run: %v", recErr)
	}

	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	printSuccess("Reconcile complete: %d files seen, %d created, %d updated, %d removed",
		report.FilesSeen, report.Created, report.Updated, report.Removed)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and modify inkwell configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config keys and their current values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, info := range config.ShowAll(cfg) {
			printStatus(info.Key, "%s (env %s)", info.Value, info.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a config key, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
