package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/inspecta/internal/auth"
	"github.com/hyperengineering/inspecta/internal/backup"
	"github.com/hyperengineering/inspecta/internal/checklist"
	"github.com/hyperengineering/inspecta/internal/config"
	"github.com/hyperengineering/inspecta/internal/media"
	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/store"
	"github.com/hyperengineering/inspecta/internal/syncengine"
	"github.com/hyperengineering/inspecta/internal/templates"
	"github.com/hyperengineering/inspecta/internal/types"
)

// app holds the collaborators shared by the server and the one-shot
// commands.
type app struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	client    *remote.Client
	tokens    *auth.StaticToken
	engine    *syncengine.Engine
	templates *templates.Store
	orch      *checklist.Orchestrator
	backups   *backup.Service
	closers   []io.Closer
}

// newApp opens the local store and wires the checklist stack from cfg.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: s}

	cache, err := newTemplateCache(cfg.Templates, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	if c, ok := cache.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.tokens = auth.NewStaticToken(cfg.Remote.Token)
	if exp, ok := auth.ExpiresAt(cfg.Remote.Token); ok {
		logger.Info("api token loaded", "expires_at", exp)
	}
	a.client = remote.New(cfg.Remote.BaseURL, a.tokens, remote.WithTimeout(time.Duration(cfg.Remote.Timeout)))

	pipeline := media.NewPipeline(a.client, newLocator(cfg.Device), logger)
	a.engine = syncengine.New(s, a.client, pipeline, cfg.Sync.MaxAttempts)
	a.templates = templates.NewStore(cache, a.client, logger)
	a.orch = checklist.New(checklist.Deps{
		Remote:    a.client,
		Templates: a.templates,
		Store:     s,
		Syncer:    a.engine,
		Photos:    pipeline,
		Logger:    logger,
	})

	uploader, err := backup.NewUploader(cfg.Backup)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("backup uploader: %w", err)
	}
	a.backups = backup.NewService(s, uploader, a.dataDir(), deviceID(cfg.Device))

	return a, nil
}

func newTemplateCache(cfg config.TemplatesConfig, s *store.SQLiteStore) (templates.Cache, error) {
	switch cfg.Cache {
	case config.CacheMemory:
		return templates.NewMemoryCache(), nil
	case config.CacheRedis:
		return templates.NewRedisCache(cfg.RedisURL, time.Duration(cfg.TTL))
	default:
		return templates.NewStoreCache(s), nil
	}
}

// dataDir is the directory holding the database; media and backups live
// beside it.
func (a *app) dataDir() string {
	return filepath.Dir(a.cfg.Database.Path)
}

func (a *app) mediaDir() string {
	return filepath.Join(a.dataDir(), "media")
}

// Close releases the store and any cache connections.
func (a *app) Close() error {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Error("close error", "error", err)
		}
	}
	return a.store.Close()
}

// newLocator reports the configured fixed position of the device, or
// unavailable when none is configured.
func newLocator(cfg config.DeviceConfig) media.Locator {
	if cfg.Latitude == nil || cfg.Longitude == nil {
		return media.StaticLocator{}
	}
	return media.StaticLocator{Location: &types.Location{Latitude: *cfg.Latitude, Longitude: *cfg.Longitude}}
}

func deviceID(cfg config.DeviceConfig) string {
	if cfg.ID != "" {
		return cfg.ID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown-device"
	}
	return host
}
