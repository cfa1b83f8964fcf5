// Package backup snapshots the pipeline's local store (wallet deployment
// records and session-key records) to timestamped files. Session-key records
// hold secret material, so losing the store strands otherwise-valid delegated
// keys; snapshots make the local half of the lifecycle recoverable.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/blocklotto/aa-pipeline/pkg/logger"
	"github.com/blocklotto/aa-pipeline/storage"
)

type Service struct {
	logger    logger.Logger
	db        storage.Storage
	backupDir string
	clock     clockwork.Clock

	running bool
	stop    chan struct{}
}

func NewService(lgr logger.Logger, db storage.Storage, backupDir string, clock clockwork.Clock) *Service {
	return &Service{
		logger:    logger.EnsureLogger(lgr),
		db:        db,
		backupDir: backupDir,
		clock:     clock,
		stop:      make(chan struct{}),
	}
}

// StartPeriodic snapshots the store every interval until Stop is called.
func (s *Service) StartPeriodic(interval time.Duration) error {
	if s.running {
		return fmt.Errorf("backup service already running")
	}
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	s.running = true
	go s.loop(interval)

	s.logger.Info("periodic backup started", "interval", interval.String(), "dir", s.backupDir)
	return nil
}

func (s *Service) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}

func (s *Service) loop(interval time.Duration) {
	for {
		select {
		case <-s.clock.After(interval):
			if file, err := s.Perform(context.Background()); err != nil {
				s.logger.Error("periodic backup failed", "error", err)
			} else {
				s.logger.Info("periodic backup written", "file", file)
			}
		case <-s.stop:
			return
		}
	}
}

// Perform writes one full snapshot and returns its path.
func (s *Service) Perform(ctx context.Context) (string, error) {
	timestamp := s.clock.Now().Format("06-01-02-15-04")
	dir := filepath.Join(s.backupDir, timestamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	file := filepath.Join(dir, "full-backup.db")
	f, err := os.Create(file)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	if _, err := s.db.Backup(ctx, f, 0); err != nil {
		return "", fmt.Errorf("snapshot failed: %w", err)
	}
	return file, nil
}

// Restore loads a snapshot file into the store. The store must be otherwise
// idle while restoring.
func (s *Service) Restore(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	if err := s.db.Load(f); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	s.logger.Info("store restored from snapshot", "file", file)
	return nil
}
