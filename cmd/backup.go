package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/blocklotto/aa-pipeline/core/backup"
	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/storage"
)

var (
	backupDir        string
	periodicInterval int
	restoreFile      string

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "snapshot the local pipeline store",
		Long: `Snapshot the local store (wallet records, session keys) to a directory.

Snapshots are stored as /backup_dir/yy-mm-dd-hh-mm/full-backup.db.
Use --interval to keep snapshotting periodically (minutes, 0 means one-shot).`,
		Run: func(cmd *cobra.Command, args []string) {
			svc, db := openBackupService()
			defer db.Close()

			if periodicInterval == 0 {
				file, err := svc.Perform(context.Background())
				if err != nil {
					fmt.Printf("backup failed: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("backup written to %s\n", file)
				return
			}

			interval := time.Duration(periodicInterval) * time.Minute
			if err := svc.StartPeriodic(interval); err != nil {
				fmt.Printf("cannot start periodic backup: %v\n", err)
				os.Exit(1)
			}
			select {} // runs until killed
		},
	}

	restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "restore the local pipeline store from a snapshot",
		Run: func(cmd *cobra.Command, args []string) {
			svc, db := openBackupService()
			defer db.Close()

			if err := svc.Restore(restoreFile); err != nil {
				fmt.Printf("restore failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("restored")
		},
	}
)

func openBackupService() (*backup.Service, storage.Storage) {
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("cannot load config: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewWithPath(cfg.DbPath)
	if err != nil {
		fmt.Printf("cannot open db: %v\n", err)
		os.Exit(1)
	}

	return backup.NewService(cfg.Logger, db, backupDir, clockwork.NewRealClock()), db
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "./backups", "directory to store snapshots")
	backupCmd.Flags().IntVar(&periodicInterval, "interval", 0, "minutes between snapshots, 0 for one-shot")
	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "snapshot file to restore from")
	_ = restoreCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
