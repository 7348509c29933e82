package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"latentloop/internal/schema"
)

// FileUserStore keeps one pretty-printed JSON document per user under its
// directory, named user_<id>.json. A per-id mutex serializes file access so
// a record is never read mid-write; within a round each user is owned by a
// single goroutine, so read-modify-write sequences need no further locking.
type FileUserStore struct {
	dir string
	log *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileUserStore(dir string, log *zap.SugaredLogger) (*FileUserStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create user dir: %w", err)
	}
	return &FileUserStore{dir: dir, log: log, locks: map[string]*sync.Mutex{}}, nil
}

func (s *FileUserStore) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

var userFileRe = regexp.MustCompile(`^user_(.+)\.json$`)

func (s *FileUserStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := userFileRe.FindStringSubmatch(e.Name()); m != nil {
			ids = append(ids, m[1])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileUserStore) path(id string) string {
	return filepath.Join(s.dir, "user_"+id+".json")
}

func (s *FileUserStore) Get(_ context.Context, id string) (*schema.User, error) {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: read user %s: %w", id, err)
	}
	var user schema.User
	if err := json.Unmarshal(b, &user); err != nil {
		return nil, fmt.Errorf("store: decode user %s: %w", id, err)
	}
	user.ID = id
	return &user, nil
}

func (s *FileUserStore) Put(_ context.Context, id string, user *schema.User) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	b, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode user %s: %w", id, err)
	}
	if err := writeFileAtomic(s.path(id), b); err != nil {
		return fmt.Errorf("store: write user %s: %w", id, err)
	}
	s.log.Debugw("saved user record", "user", id)
	return nil
}

// FileTemplateStore keeps template_NNN.json files plus a registry.json
// holding the latest version counter. The counter is authoritative; filename
// scanning survives only as a recovery path for directories seeded before
// the registry existed.
type FileTemplateStore struct {
	dir string
	log *zap.SugaredLogger
	mu  sync.Mutex
}

type registry struct {
	Latest int `json:"latest"`
}

func NewFileTemplateStore(dir string, log *zap.SugaredLogger) (*FileTemplateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create template dir: %w", err)
	}
	return &FileTemplateStore{dir: dir, log: log}, nil
}

func (s *FileTemplateStore) path(version int) string {
	return filepath.Join(s.dir, schema.VersionID(version)+".json")
}

func (s *FileTemplateStore) registryPath() string {
	return filepath.Join(s.dir, "registry.json")
}

func (s *FileTemplateStore) Latest(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked()
}

func (s *FileTemplateStore) latestLocked() (int, error) {
	b, err := os.ReadFile(s.registryPath())
	if err == nil {
		var reg registry
		if err := json.Unmarshal(b, &reg); err != nil {
			return 0, fmt.Errorf("store: decode registry: %w", err)
		}
		return reg.Latest, nil
	}
	if !os.IsNotExist(err) {
		return 0, fmt.Errorf("store: read registry: %w", err)
	}
	return s.scanLatest()
}

var templateFileRe = regexp.MustCompile(`^template_(\d+)\.json$`)

func (s *FileTemplateStore) scanLatest() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("store: scan templates: %w", err)
	}
	latest := -1
	for _, e := range entries {
		m := templateFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	if latest < 0 {
		return 0, fmt.Errorf("store: templates: %w", ErrNotFound)
	}
	return latest, nil
}

func (s *FileTemplateStore) Exists(_ context.Context, version int) (bool, error) {
	_, err := os.Stat(s.path(version))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("store: stat template %d: %w", version, err)
}

func (s *FileTemplateStore) Get(_ context.Context, version int) (*schema.Template, error) {
	b, err := os.ReadFile(s.path(version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: template %d: %w", version, ErrNotFound)
		}
		return nil, fmt.Errorf("store: read template %d: %w", version, err)
	}
	var t schema.Template
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("store: decode template %d: %w", version, err)
	}
	return &t, nil
}

func (s *FileTemplateStore) Put(_ context.Context, version int, t *schema.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode template %d: %w", version, err)
	}
	if err := writeFileAtomic(s.path(version), b); err != nil {
		return fmt.Errorf("store: write template %d: %w", version, err)
	}

	latest, err := s.latestLocked()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, ErrNotFound) || version > latest {
		rb, err := json.Marshal(registry{Latest: version})
		if err != nil {
			return fmt.Errorf("store: encode registry: %w", err)
		}
		if err := writeFileAtomic(s.registryPath(), rb); err != nil {
			return fmt.Errorf("store: write registry: %w", err)
		}
	}
	s.log.Debugw("saved template", "version", schema.VersionID(version))
	return nil
}

// writeFileAtomic writes via a temp file and rename so readers never observe
// a half-written document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
