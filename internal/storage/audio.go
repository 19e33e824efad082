package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidName = errors.New("invalid audio file name")
	ErrNotFound    = errors.New("audio file not found")
)

var audioNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}\.mp3$`)

// AudioStore keeps synthesized replies on disk so they can be replayed
// from GET /audio/{filename}.
type AudioStore struct {
	dir       string
	urlPrefix string
}

func NewAudioStore(dir, urlPrefix string) (*AudioStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &AudioStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (s *AudioStore) Dir() string { return s.dir }

// URL returns the public path of a stored file.
func (s *AudioStore) URL(name string) string {
	return s.urlPrefix + "/" + name
}

// Save copies r into a new file and returns its public URL.
func (s *AudioStore) Save(ctx context.Context, r io.Reader) (string, error) {
	f, err := s.Create()
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, contextReader{ctx: ctx, r: r}); err != nil {
		f.Discard()
		return "", fmt.Errorf("write audio: %w", err)
	}
	return f.Commit()
}

// Create opens a pending file. Nothing is visible until Commit.
func (s *AudioStore) Create() (*PendingFile, error) {
	name := uuid.New().String() + ".mp3"
	tmp, err := os.CreateTemp(s.dir, ".pending-*")
	if err != nil {
		return nil, fmt.Errorf("create audio file: %w", err)
	}
	return &PendingFile{store: s, name: name, tmp: tmp}, nil
}

// Open returns the stored file called name.
func (s *AudioStore) Open(name string) (*os.File, error) {
	if !audioNamePattern.MatchString(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Sweep deletes files last modified more than ttl before now, including
// abandoned pending files.
func (s *AudioStore) Sweep(now time.Time, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read audio dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !isExpired(info.ModTime(), ttl, now) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func isExpired(modTime time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(modTime) > ttl
}

// PendingFile is an audio file being written.
type PendingFile struct {
	store *AudioStore
	name  string
	tmp   *os.File
}

func (f *PendingFile) Write(p []byte) (int, error) {
	return f.tmp.Write(p)
}

func (f *PendingFile) Name() string { return f.name }

// Commit makes the file visible and returns its URL.
func (f *PendingFile) Commit() (string, error) {
	if err := f.tmp.Close(); err != nil {
		os.Remove(f.tmp.Name())
		return "", fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(f.tmp.Name(), filepath.Join(f.store.dir, f.name)); err != nil {
		os.Remove(f.tmp.Name())
		return "", fmt.Errorf("store audio file: %w", err)
	}
	return f.store.URL(f.name), nil
}

// Discard removes the pending file.
func (f *PendingFile) Discard() {
	f.tmp.Close()
	os.Remove(f.tmp.Name())
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
