// Package storage provides the file-backed JSON cache used for market
// data, tokens, and calendars.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mkkang/swingbot/internal/common"
)

// Store is a directory of JSON documents keyed by sanitized name.
// Writes are atomic: temp file in the same directory, fsync, rename.
type Store struct {
	dir    string
	logger *common.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Envelope wraps a cached payload with the write timestamp so callers
// can apply TTLs.
type Envelope struct {
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *common.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// sanitizeKey maps a cache key to a safe file stem. Path separators and
// other non-portable characters become underscores.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

// lockFor returns the process-local mutex for a path.
func (s *Store) lockFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[abs]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[abs] = l
	return l
}

// Save marshals value and writes it atomically under key, wrapped in an
// Envelope carrying the current time.
func (s *Store) Save(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	env := Envelope{SavedAt: time.Now().UTC(), Data: raw}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for %s: %w", key, err)
	}
	return s.writeAtomic(s.pathFor(key), data)
}

// Load reads the document under key into out and returns its write
// time. A missing or unreadable document is a cache miss (ok=false),
// never an error: the cache is advisory.
func (s *Store) Load(key string, out any) (time.Time, bool) {
	path := s.pathFor(key)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Data == nil {
		if s.logger != nil {
			s.logger.Warn().Str("key", key).Msg("Discarding corrupt cache entry")
		}
		return time.Time{}, false
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		if s.logger != nil {
			s.logger.Warn().Str("key", key).Err(err).Msg("Discarding unreadable cache entry")
		}
		return time.Time{}, false
	}
	return env.SavedAt, true
}

// LoadFresh is Load with a TTL; entries older than ttl are misses.
// A zero ttl disables the age check.
func (s *Store) LoadFresh(key string, ttl time.Duration, out any) bool {
	savedAt, ok := s.Load(key, out)
	if !ok {
		return false
	}
	if ttl > 0 && time.Since(savedAt) > ttl {
		return false
	}
	return true
}

// Delete removes the document under key. Missing documents are fine.
func (s *Store) Delete(key string) error {
	path := s.pathFor(key)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// writeAtomic writes data to path via a temp file in the same directory
// so readers never observe a partial document.
func (s *Store) writeAtomic(path string, data []byte) error {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path with the temp+fsync+rename
// discipline used for cache documents. Callers coordinate their own
// locking.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
