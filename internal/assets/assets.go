// Package assets resolves game content paths against loose directories and VPK
// archives, caching file bytes.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/coocood/freecache"
	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/internal/logger"
	"github.com/Faultbox/srcforge/pkg/encoding"
	"github.com/Faultbox/srcforge/pkg/vpk"
)

// ErrNotFound is returned when no source holds a path.
var ErrNotFound = errors.New("file not found")

// FileSystem is the read-only view decoders load content through.
// Paths are lowercase with forward slashes.
type FileSystem interface {
	Exists(path string) bool
	Open(path string) ([]byte, error)
}

// NormalizePath lowercases a content path and converts it to forward slashes.
func NormalizePath(path string) string {
	return encoding.NormalizePath(path)
}

type source interface {
	Name() string
	Contains(path string) bool
	Read(path string) ([]byte, error)
	Close() error
}

// Manager searches its sources in the order they were added.
type Manager struct {
	sources []source
	cache   *freecache.Cache
	mu      sync.RWMutex
	log     *zap.Logger
}

// NewManager creates a manager with a byte cache of cacheMB megabytes.
// Zero disables caching.
func NewManager(cacheMB int) *Manager {
	m := &Manager{log: logger.Named("assets")}
	if cacheMB > 0 {
		m.cache = freecache.NewCache(cacheMB << 20)
	}
	return m
}

// AddDir adds a loose content directory.
func (m *Manager) AddDir(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("adding directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("adding directory %s: not a directory", root)
	}

	m.mu.Lock()
	m.sources = append(m.sources, &dirSource{root: root})
	m.mu.Unlock()
	return nil
}

// AddArchive adds a VPK directory file.
func (m *Manager) AddArchive(path string) error {
	archive, err := vpk.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", path, err)
	}

	m.mu.Lock()
	m.sources = append(m.sources, &vpkSource{path: path, Archive: archive})
	m.mu.Unlock()

	m.log.Debug("mounted archive", zap.String("path", path), zap.Int("files", len(archive.List())))
	return nil
}

// Sources returns the mounted sources in search order.
func (m *Manager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.sources))
	for i, s := range m.sources {
		out[i] = s.Name()
	}
	return out
}

// Exists reports whether any source holds path.
func (m *Manager) Exists(path string) bool {
	path = NormalizePath(path)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sources {
		if s.Contains(path) {
			return true
		}
	}
	return false
}

// Open returns the bytes of path from the first source that holds it.
// Callers must not modify the returned slice.
func (m *Manager) Open(path string) ([]byte, error) {
	path = NormalizePath(path)
	key := []byte(path)
	if m.cache != nil {
		if data, err := m.cache.Get(key); err == nil {
			return data, nil
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sources {
		if !s.Contains(path) {
			continue
		}
		data, err := s.Read(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s from %s: %w", path, s.Name(), err)
		}
		if m.cache != nil {
			if err := m.cache.Set(key, data, 0); err != nil {
				m.log.Debug("not cached", zap.String("path", path), logger.Bytes("size", int64(len(data))), zap.Error(err))
			}
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// Stats returns cache hit and miss counts.
func (m *Manager) Stats() (hits, misses int64) {
	if m.cache == nil {
		return 0, 0
	}
	return m.cache.HitCount(), m.cache.MissCount()
}

// Close closes all sources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, s := range m.sources {
		errs = append(errs, s.Close())
	}
	m.sources = nil
	if m.cache != nil {
		m.cache.Clear()
	}
	return errors.Join(errs...)
}

type vpkSource struct {
	path string
	*vpk.Archive
}

func (s *vpkSource) Name() string { return s.path }

// dirSource serves files under root. Lookups go through a lowercase index so
// content authored with mixed case still resolves on case-sensitive systems.
type dirSource struct {
	root  string
	once  sync.Once
	index map[string]string
}

func (s *dirSource) Name() string { return s.root }

func (s *dirSource) build() {
	s.index = make(map[string]string)
	_ = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		s.index[NormalizePath(filepath.ToSlash(rel))] = p
		return nil
	})
}

func (s *dirSource) Contains(path string) bool {
	s.once.Do(s.build)
	_, ok := s.index[path]
	return ok
}

func (s *dirSource) Read(path string) ([]byte, error) {
	s.once.Do(s.build)
	full, ok := s.index[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return os.ReadFile(full)
}

func (s *dirSource) Close() error { return nil }
