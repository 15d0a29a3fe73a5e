package main

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/somnus/internal/snapshot"
	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/worker"
	"github.com/spf13/cobra"
)

var backupDir string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a journal database backup and upload it when S3 is configured",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "Backup directory (default from config)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	dir := cfg.Worker.BackupDir
	if backupDir != "" {
		dir = backupDir
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}

	path, key, err := worker.NewBackupWorker(db, uploader, dir, 0, cfg.Worker.BackupRetain, nil).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backup:   %s\n", path)
	if key == "" {
		fmt.Fprintln(out, "Upload:   skipped (backup storage not configured)")
		return nil
	}
	fmt.Fprintf(out, "Object:   %s\n", key)

	url, expiry, err := uploader.PresignedURL(ctx, key)
	switch {
	case errors.Is(err, snapshot.ErrNotConfigured):
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "URL:      %s\n", url)
	fmt.Fprintf(out, "Expires:  %s\n", expiry.Format("2006-01-02 15:04:05 MST"))
	return nil
}
