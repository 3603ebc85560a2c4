package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/driftlab/driftsync/internal/checkpoint"
	"github.com/driftlab/driftsync/internal/config"
	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store/boltstore"
	"github.com/driftlab/driftsync/internal/store/sqlitestore"
	"github.com/driftlab/driftsync/internal/syncer"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command, collection := args[0], args[1]

	if err := run(command, collection, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command, collection, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	local, err := boltstore.New(ctx, cfg.Stores.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer func() {
		if err := local.Close(); err != nil {
			logger.Error("failed to close local store", "error", err)
		}
	}()

	cloud, err := sqlitestore.New(ctx, cfg.Stores.CloudPath)
	if err != nil {
		return fmt.Errorf("failed to open cloud store: %w", err)
	}
	defer func() {
		if err := cloud.Close(); err != nil {
			logger.Error("failed to close cloud store", "error", err)
		}
	}()

	policy, err := cfg.Sync.Policy()
	if err != nil {
		return err
	}

	// Checkpoints and the conflict log live beside the mirror: losing the
	// local database resets sync progress along with the mirrored data.
	manager := syncer.NewManager(syncer.ManagerConfig{
		Local:       local,
		Cloud:       cloud,
		Checkpoints: checkpoint.NewStore(local, logger),
		Conflicts:   checkpoint.NewConflictLog(local, logger),
		Policy:      policy,
		Sync:        cfg.Sync,
		Logger:      logger,
	})

	switch command {
	case "run":
		result, err := manager.RunPass(ctx, collection)
		if err != nil {
			return err
		}
		fmt.Printf("Pass %s completed: applied=%d conflicts=%d failed=%d duration=%s\n",
			result.PassID, result.Applied, result.Conflicts, result.Failed, result.Duration)
		for _, failure := range result.Failures {
			fmt.Printf("  failed %s: %v\n", failure.RecordID, failure.Err)
		}
		return nil

	case "status":
		for _, direction := range []models.Direction{models.DirectionCloudToLocal, models.DirectionLocalToCloud} {
			cp, err := manager.Status(ctx, collection, direction)
			if err != nil {
				return err
			}
			fmt.Printf("%s: status=%s cursor_version=%d cursor_time=%s last_synced=%s\n",
				direction, cp.Status, cp.Cursor.Version, cp.Cursor.Time, cp.LastSyncedAt)
		}
		return nil

	case "pending":
		for _, direction := range []models.Direction{models.DirectionCloudToLocal, models.DirectionLocalToCloud} {
			count, err := manager.PendingCount(ctx, collection, direction)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d pending\n", direction, count)
		}
		return nil

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Println("Usage: driftsync [-config file] <command> <collection>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run <collection>      Run one sync pass")
	fmt.Println("  status <collection>   Show checkpoint status")
	fmt.Println("  pending <collection>  Count records waiting to sync")
}

func printVersion() {
	fmt.Printf("driftsync\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
