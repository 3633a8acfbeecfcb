package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/inspecta/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the local database",
}

var backupNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Snapshot the database and upload it when a bucket is configured",
	Args:  cobra.NoArgs,
	RunE:  runBackupNow,
}

var backupURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print a time-limited download URL for this device's backup",
	Args:  cobra.NoArgs,
	RunE:  runBackupURL,
}

func init() {
	backupCmd.AddCommand(backupNowCmd)
	backupCmd.AddCommand(backupURLCmd)
}

func runBackupNow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.backups.Create(ctx)
	if res == nil {
		return fmt.Errorf("backup: %w", err)
	}

	var size int64
	if info, serr := os.Stat(res.Path); serr == nil {
		size = info.Size()
	}

	if jsonOutput {
		if perr := printJSON(cmd.OutOrStdout(), map[string]any{
			"path":       res.Path,
			"size_bytes": size,
			"uploaded":   res.Uploaded,
			"at":         res.At,
		}); perr != nil {
			return perr
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s (%s)\n", res.Path, formatSize(size))
	if res.Uploaded {
		fmt.Fprintln(cmd.OutOrStdout(), "Uploaded to object storage.")
	}
	return err
}

func runBackupURL(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	url, expiry, err := a.backups.DownloadURL(ctx)
	if errors.Is(err, backup.ErrNotConfigured) {
		return errors.New("no backup bucket configured (set INSPECTA_BACKUP_BUCKET)")
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"url":        url,
			"expires_at": expiry,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), url)
	return nil
}
