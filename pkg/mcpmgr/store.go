package mcpmgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// connectionStore holds the registry and session cache and applies every
// per-id mutation under that id's lock.
type connectionStore struct {
	registry          *Registry
	sessions          *SessionCache
	locks             *keyedMutex
	newConnection     func(ServerConfig) *Connection
	disconnectTimeout time.Duration
	logger            *slog.Logger
}

func newConnectionStore(newConn func(ServerConfig) *Connection, disconnectTimeout time.Duration, logger *slog.Logger) *connectionStore {
	return &connectionStore{
		registry:          newRegistry(),
		sessions:          newSessionCache(),
		locks:             newKeyedMutex(),
		newConnection:     newConn,
		disconnectTimeout: disconnectTimeout,
		logger:            logger,
	}
}

// connectServer replaces whatever is registered for cfg.ID with a fresh
// connection. The old one is fully torn down first. The outcome is written to
// the session cache whether or not the connect succeeded, and a failed
// connection stays registered so its status can be queried.
func (s *connectionStore) connectServer(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.Clone()

	unlock := s.locks.Lock(cfg.ID)
	defer unlock()

	if existing, ok := s.registry.Get(cfg.ID); ok {
		// A cancelled caller must not leave the old transport half open.
		if err := s.teardown(context.WithoutCancel(ctx), existing); err != nil {
			s.logger.Warn("teardown before reconnect failed", slog.String("server", cfg.ID), slog.Any("error", err))
		}
		s.registry.remove(cfg.ID, existing)
	}

	conn := s.newConnection(cfg)
	s.registry.put(cfg.ID, conn)
	err := conn.Connect(ctx)
	s.sessions.Save(cfg.ID, conn.Status(), cfg)
	return err
}

// teardown disconnects conn, bounded by the store's disconnect timeout.
func (s *connectionStore) teardown(ctx context.Context, conn *Connection) error {
	tctx, cancel := context.WithTimeout(ctx, s.disconnectTimeout)
	defer cancel()
	return conn.Disconnect(tctx)
}

// disconnectServer tears down and unregisters id and clears its session
// shadow. Without a registry entry it only clears the shadow.
func (s *connectionStore) disconnectServer(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	conn, ok := s.registry.Get(id)
	if !ok {
		s.sessions.Delete(id)
		return nil
	}
	err := s.teardown(ctx, conn)
	s.registry.remove(id, conn)
	s.sessions.Delete(id)
	return err
}

// status never fails: registry first, then the session shadow, then a plain
// disconnected status.
func (s *connectionStore) status(id string) ConnectionStatus {
	if conn, ok := s.registry.Get(id); ok {
		return conn.Status()
	}
	if rec, ok := s.sessions.Get(id); ok {
		return rec.Status.clone()
	}
	return ConnectionStatus{Connected: false}
}

func (s *connectionStore) allStatuses() map[string]ConnectionStatus {
	records := s.sessions.All()
	snapshot := s.registry.Snapshot()
	out := make(map[string]ConnectionStatus, len(records)+len(snapshot))
	for id, rec := range records {
		out[id] = rec.Status.clone()
	}
	for id, conn := range snapshot {
		out[id] = conn.Status()
	}
	return out
}

// disconnectAll disconnects every registered server concurrently. A failure
// for one id is logged and does not stop the others.
func (s *connectionStore) disconnectAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for id := range s.registry.Snapshot() {
		g.Go(func() error {
			if err := s.disconnectServer(ctx, id); err != nil {
				s.logger.Warn("disconnect failed", slog.String("server", id), slog.Any("error", err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
