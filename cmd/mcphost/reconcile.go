package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

// maxParallelConnects bounds how many handshakes run at once. Each stdio
// server is a process spawn, so an unbounded burst at startup is unkind.
const maxParallelConnects = 4

// reconciler keeps the manager in line with the servers file.
type reconciler struct {
	manager     *mcpmgr.Manager
	logger      *slog.Logger
	autoConnect bool

	mu    sync.Mutex
	known map[string]mcpmgr.ServerConfig
}

func newReconciler(m *mcpmgr.Manager, logger *slog.Logger, autoConnect bool) *reconciler {
	return &reconciler{
		manager:     m,
		logger:      logger,
		autoConnect: autoConnect,
		known:       make(map[string]mcpmgr.ServerConfig),
	}
}

// apply diffs servers against the previous file contents: removed servers are
// disconnected, changed servers that are connected (or every changed and new
// server under autoConnect) are reconnected. A read error leaves everything as
// it was.
func (r *reconciler) apply(ctx context.Context, servers []mcpmgr.ServerConfig, readErr error) error {
	if readErr != nil {
		r.logger.Warn("servers file unreadable, keeping current connections", "error", readErr)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]mcpmgr.ServerConfig, len(servers))
	var connect []mcpmgr.ServerConfig
	for _, cfg := range servers {
		next[cfg.ID] = cfg
		prev, seen := r.known[cfg.ID]
		switch {
		case seen && sameConfig(prev, cfg):
			continue
		case r.autoConnect:
			connect = append(connect, cfg)
		case seen && r.manager.Status(cfg.ID).Connected:
			connect = append(connect, cfg)
		}
	}

	var errs []error
	for id := range r.known {
		if _, ok := next[id]; ok {
			continue
		}
		r.logger.Info("server removed from file", "server", id)
		if err := r.manager.Disconnect(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	r.known = next

	errs = append(errs, r.connectAll(ctx, connect))
	return errors.Join(errs...)
}

// connectAll connects every config concurrently and joins the failures. One
// server failing never stops the others.
func (r *reconciler) connectAll(ctx context.Context, servers []mcpmgr.ServerConfig) error {
	if len(servers) == 0 {
		return nil
	}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(maxParallelConnects)
	for _, cfg := range servers {
		g.Go(func() error {
			if err := r.manager.Connect(ctx, cfg); err != nil {
				r.logger.Warn("connect failed", "server", cfg.ID, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", cfg.ID, err))
				mu.Unlock()
				return nil
			}
			r.logger.Info("connected", "server", cfg.ID, "transport", cfg.Transport())
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// sameConfig ignores bookkeeping timestamps.
func sameConfig(a, b mcpmgr.ServerConfig) bool {
	a.CreatedAt, a.UpdatedAt = time.Time{}, time.Time{}
	b.CreatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}
