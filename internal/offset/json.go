package offset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

const tokenVersion = 1

type tokenFile struct {
	Version int    `json:"version"`
	Files   Record `json:"files"`
}

// JSONStore keeps the record in a single token file that is replaced atomically on every commit.
type JSONStore struct {
	path   string
	lock   *flock.Flock
	mu     sync.Mutex
	record Record

	// write fills the temp file; swapped in tests to simulate a crash mid-write.
	write func(f *os.File, data []byte) error
}

// NewJSONStore opens the token file at path, takes an exclusive lock next to it and reads the
// current record.
func NewJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create token directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire token lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("token file %s is in use by another shipper", path)
	}

	s := &JSONStore{
		path:  path,
		lock:  lock,
		write: writeAll,
	}
	// Commit and Prune rewrite the whole file, so the record must start from what is on disk.
	if _, err := s.Load(context.Background()); err != nil {
		lock.Unlock()
		return nil, err
	}
	return s, nil
}

func writeAll(f *os.File, data []byte) error {
	_, err := f.Write(data)
	return err
}

func (s *JSONStore) Path() string {
	return s.path
}

func (s *JSONStore) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = Record{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logrus.WithField("file", s.path).WithError(err).Warn("could not read token file, starting from offset 0")
		}
		return s.record.Clone(), nil
	}

	var token tokenFile
	if err := json.Unmarshal(data, &token); err != nil {
		logrus.WithField("file", s.path).WithError(err).Warn("corrupt token file, starting from offset 0")
		return s.record.Clone(), nil
	}

	if token.Files != nil {
		s.record = token.Files
	}
	return s.record.Clone(), nil
}

func (s *JSONStore) Commit(_ context.Context, id string, pos internal.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}

	next := s.record.Clone()
	next[id] = pos
	if err := s.save(next); err != nil {
		return err
	}
	s.record = next
	return nil
}

func (s *JSONStore) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.record.Clone()
	var removed int64
	for id, pos := range next {
		if pos.UpdatedAt.Before(olderThan) {
			delete(next, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(next); err != nil {
		return 0, err
	}
	s.record = next
	return removed, nil
}

// save writes the record to a temp file in the token directory and renames it into place.
// On any failure the previous token file is left untouched.
func (s *JSONStore) save(record Record) error {
	data, err := json.MarshalIndent(tokenFile{Version: tokenVersion, Files: record}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal token: %v", ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp token: %v", ErrPersistence, err)
	}
	tmpPath := tmp.Name()

	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %s: %v", ErrPersistence, step, err)
	}

	if err := s.write(tmp, data); err != nil {
		return fail("write temp token", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp token", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp token: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename temp token: %v", ErrPersistence, err)
	}

	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logrus.WithField("dir", dir).WithError(err).Trace("directory sync not supported")
	}
}

func (s *JSONStore) Close() error {
	return s.lock.Unlock()
}
