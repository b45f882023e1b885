package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haunv/profilesync/internal/core/config"
	"github.com/haunv/profilesync/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored sync checkpoints and their age",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	checkpoints, err := postgres.NewCheckpointRepo(db).List(ctx)
	if err != nil {
		slog.Error("Failed to list checkpoints", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TARGET\tITEMS\tHASH\tLAST SYNC")

	for _, cp := range checkpoints {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%x\t%s\n",
			cp.TargetKey, len(cp.ItemKeys), cp.LastHash, cp.LastSyncAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}
