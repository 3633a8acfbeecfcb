package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// Snapshotter writes a consistent copy of the local database.
type Snapshotter interface {
	Snapshot(ctx context.Context, destPath string) error
}

// Result describes one backup run.
type Result struct {
	Path     string
	Uploaded bool
	At       time.Time
}

// Service takes snapshots of the local store and uploads them.
type Service struct {
	store    Snapshotter
	uploader Uploader
	dir      string
	deviceID string
}

// NewService creates a backup service writing snapshots under dir. The
// deviceID namespaces uploads so several devices can share a bucket.
func NewService(store Snapshotter, uploader Uploader, dir, deviceID string) *Service {
	if uploader == nil {
		uploader = NoopUploader{}
	}
	return &Service{store: store, uploader: uploader, dir: dir, deviceID: deviceID}
}

// Path returns where the local snapshot is written.
func (s *Service) Path() string {
	return filepath.Join(s.dir, "inspecta-backup.db")
}

// Create snapshots the store and uploads the copy. A failed upload leaves
// the local snapshot in place and is returned alongside the result.
func (s *Service) Create(ctx context.Context) (*Result, error) {
	res := &Result{Path: s.Path(), At: time.Now().UTC()}
	if err := s.store.Snapshot(ctx, res.Path); err != nil {
		return nil, fmt.Errorf("snapshot local store: %w", err)
	}

	if _, noop := s.uploader.(NoopUploader); noop {
		return res, nil
	}
	if err := s.uploader.Upload(ctx, s.deviceID, res.Path); err != nil {
		return res, err
	}
	res.Uploaded = true
	return res, nil
}

// DownloadURL returns a pre-signed URL for this device's latest upload.
func (s *Service) DownloadURL(ctx context.Context) (string, time.Time, error) {
	return s.uploader.PresignedURL(ctx, s.deviceID)
}
