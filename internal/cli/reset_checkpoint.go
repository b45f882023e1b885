package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haunv/profilesync/internal/core/config"
	"github.com/haunv/profilesync/internal/infra/storage/postgres"
)

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint [target_key]",
	Short: "Delete the sync checkpoint for a target so the next sync is a full sync",
	Args:  cobra.ExactArgs(1),
	Run:   runResetCheckpoint,
}

func init() {
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	targetKey := args[0]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := postgres.NewCheckpointRepo(db).Delete(ctx, targetKey); err != nil {
		slog.Error("Failed to reset checkpoint", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset checkpoint for %s\n", targetKey)
}
