// Package serverstore keeps MCP server configurations in a YAML file.
//
// The file is the source of truth: every read goes back to disk, so edits made
// by hand (and picked up by Watch) are never shadowed by a stale copy.
package serverstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

var (
	ErrNotFound    = errors.New("serverstore: server not found")
	ErrDuplicateID = errors.New("serverstore: duplicate server id")
)

// Document is the on-disk and export shape.
type Document struct {
	Servers []mcpmgr.ServerConfig `yaml:"servers" json:"servers"`
}

// Options customise a Store. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Now stamps createdAt/updatedAt. Defaults to time.Now in UTC.
	Now func() time.Time
	// NewID names servers saved without an id. Defaults to a random UUID.
	NewID func() string
	// Debounce coalesces bursts of file events in Watch. Defaults to 200ms.
	Debounce time.Duration
}

// Store is a file-backed collection of server configurations. It is safe for
// concurrent use within one process.
type Store struct {
	path string
	opts Options

	mu sync.Mutex
}

// Open returns a Store for path. The file need not exist yet.
func Open(path string, opts *Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("serverstore: path is required")
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Debounce <= 0 {
		o.Debounce = 200 * time.Millisecond
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("serverstore: resolve %s: %w", path, err)
	}
	return &Store{path: abs, opts: o}, nil
}

// Path returns the absolute file path.
func (s *Store) Path() string { return s.path }

// List returns every server in file order.
func (s *Store) List() ([]mcpmgr.ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns one server.
func (s *Store) Get(id string) (mcpmgr.ServerConfig, error) {
	servers, err := s.List()
	if err != nil {
		return mcpmgr.ServerConfig{}, err
	}
	if i := indexOf(servers, id); i >= 0 {
		return servers[i], nil
	}
	return mcpmgr.ServerConfig{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Save inserts or replaces cfg. A missing id is generated; createdAt is kept
// from the stored copy and updatedAt is always refreshed.
func (s *Store) Save(cfg mcpmgr.ServerConfig) (mcpmgr.ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	servers, err := s.load()
	if err != nil {
		return mcpmgr.ServerConfig{}, err
	}
	saved, err := s.upsert(&servers, cfg)
	if err != nil {
		return mcpmgr.ServerConfig{}, err
	}
	if err := s.write(servers); err != nil {
		return mcpmgr.ServerConfig{}, err
	}
	return saved, nil
}

// Delete removes the server with id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	servers, err := s.load()
	if err != nil {
		return err
	}
	i := indexOf(servers, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.write(slices.Delete(servers, i, i+1))
}

// Export returns the whole store as a Document.
func (s *Store) Export() (Document, error) {
	servers, err := s.List()
	if err != nil {
		return Document{}, err
	}
	return Document{Servers: servers}, nil
}

// Import merges doc into the store, or replaces the store when replace is
// set. Every entry is validated before anything is written.
func (s *Store) Import(doc Document, replace bool) ([]mcpmgr.ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var servers []mcpmgr.ServerConfig
	if !replace {
		var err error
		if servers, err = s.load(); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]bool, len(doc.Servers))
	imported := make([]mcpmgr.ServerConfig, 0, len(doc.Servers))
	for _, cfg := range doc.Servers {
		if cfg.ID != "" {
			if seen[cfg.ID] {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
			}
			seen[cfg.ID] = true
		}
		saved, err := s.upsert(&servers, cfg)
		if err != nil {
			return nil, err
		}
		imported = append(imported, saved)
	}
	if err := s.write(servers); err != nil {
		return nil, err
	}
	return imported, nil
}

func (s *Store) upsert(servers *[]mcpmgr.ServerConfig, cfg mcpmgr.ServerConfig) (mcpmgr.ServerConfig, error) {
	cfg = cfg.Clone()
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = s.opts.NewID()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if err := cfg.Validate(); err != nil {
		return mcpmgr.ServerConfig{}, err
	}
	now := s.opts.Now()
	cfg.UpdatedAt = now
	if i := indexOf(*servers, cfg.ID); i >= 0 {
		cfg.CreatedAt = (*servers)[i].CreatedAt
		(*servers)[i] = cfg
		return cfg, nil
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	*servers = append(*servers, cfg)
	return cfg, nil
}

func (s *Store) load() ([]mcpmgr.ServerConfig, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("serverstore: read %s: %w", s.path, err)
	}
	return Decode(data)
}

// Decode parses a servers document, rejecting duplicate ids and invalid
// entries.
func Decode(data []byte) ([]mcpmgr.ServerConfig, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("serverstore: decode: %w", err)
	}
	seen := make(map[string]bool, len(doc.Servers))
	for _, cfg := range doc.Servers {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
		}
		seen[cfg.ID] = true
	}
	return doc.Servers, nil
}

// write replaces the file atomically so Watch never observes a torn document.
func (s *Store) write(servers []mcpmgr.ServerConfig) error {
	if servers == nil {
		servers = []mcpmgr.ServerConfig{}
	}
	data, err := yaml.Marshal(Document{Servers: servers})
	if err != nil {
		return fmt.Errorf("serverstore: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("serverstore: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("serverstore: write %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("serverstore: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("serverstore: write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("serverstore: write %s: %w", s.path, err)
	}
	s.opts.Logger.Debug("servers file written", "path", s.path, "servers", len(servers))
	return nil
}

func indexOf(servers []mcpmgr.ServerConfig, id string) int {
	return slices.IndexFunc(servers, func(c mcpmgr.ServerConfig) bool { return c.ID == id })
}
