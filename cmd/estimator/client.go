package main

import (
	"context"
	"fmt"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/auth"
	"github.com/piehlerb/job-estimator-sub000/internal/config"
	"github.com/piehlerb/job-estimator-sub000/internal/coordinator"
	"github.com/piehlerb/job-estimator-sub000/internal/engine"
	"github.com/piehlerb/job-estimator-sub000/internal/metrics"
	"github.com/piehlerb/job-estimator-sub000/internal/queue"
	"github.com/piehlerb/job-estimator-sub000/internal/remote"
	"github.com/piehlerb/job-estimator-sub000/internal/repository"
	"github.com/piehlerb/job-estimator-sub000/internal/store"
)

// device is the local half of the sync engine: the device store, the
// signed-in session, the pending-change queue, and everything that
// pushes and pulls through them.
type device struct {
	local       *store.LocalStore
	session     *auth.Session
	queue       *queue.Queue
	remote      *remote.Client
	engine      *engine.Engine
	coordinator *coordinator.Coordinator
	repo        *repository.Repository
}

// openDevice builds the device stack from config. The metrics argument
// may be nil.
func openDevice(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*device, error) {
	ls, err := store.NewLocalStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	q := queue.New(ls)
	if err := q.Load(ctx); err != nil {
		ls.Close()
		return nil, fmt.Errorf("load sync queue: %w", err)
	}

	deviceID, err := ls.DeviceID(ctx)
	if err != nil {
		ls.Close()
		return nil, err
	}
	lastSync, err := ls.LastSyncTime(ctx)
	if err != nil {
		ls.Close()
		return nil, err
	}

	session := auth.NewSession(ls)
	client := remote.New(remote.Config{
		BaseURL:    cfg.Remote.URL,
		APIKey:     cfg.Remote.APIKey,
		DeviceID:   deviceID,
		Timeout:    time.Duration(cfg.Remote.Timeout),
		MaxRetries: uint64(cfg.Remote.MaxRetries),
		BaseDelay:  time.Duration(cfg.Remote.BaseDelay),
	}, session)

	eng := engine.New(ls, q, client)
	coord := coordinator.New(eng, session, q,
		coordinator.WithInterval(time.Duration(cfg.Sync.Interval)),
		coordinator.WithDebounce(time.Duration(cfg.Sync.Debounce)),
		coordinator.WithAttemptTimeout(time.Duration(cfg.Sync.AttemptTimeout)),
		coordinator.WithLastSyncTime(lastSync),
		coordinator.WithMetrics(m),
	)

	return &device{
		local:       ls,
		session:     session,
		queue:       q,
		remote:      client,
		engine:      eng,
		coordinator: coord,
		repo:        repository.New(ls, q, coord),
	}, nil
}

// Close stops background sync and closes the local store.
func (d *device) Close() error {
	d.coordinator.Stop()
	return d.local.Close()
}
