// Package assets serves the files behind the portal: the landing document
// and the media files streamed to clients.
package assets

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned when a requested asset does not exist or is not a
// regular file.
var ErrNotFound = errors.New("asset not found")

// document is a cached file body together with the stat values it was read under.
type document struct {
	size    int64
	modTime time.Time
	body    []byte
}

// Store reads assets from a filesystem. Landing documents are cached and
// re-read whenever their size or modification time changes.
type Store struct {
	fsys    fs.FS
	landing string
	cache   *lru.Cache[string, document]
	hits    uint64
	misses  uint64
}

// New returns a Store over fsys. cacheSize bounds the number of cached
// documents and must be positive.
func New(fsys fs.FS, landing string, cacheSize int) (*Store, error) {
	if fsys == nil {
		return nil, errors.New("assets: nil filesystem")
	}
	name, err := cleanName(landing)
	if err != nil {
		return nil, fmt.Errorf("assets: landing document: %w", err)
	}
	cache, err := lru.New[string, document](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}
	return &Store{fsys: fsys, landing: name, cache: cache}, nil
}

// Check verifies the landing document exists and is a regular file.
func (s *Store) Check() error {
	_, err := s.stat(s.landing)
	return err
}

// Landing returns the landing document body.
func (s *Store) Landing() ([]byte, error) {
	return s.Document(s.landing)
}

// Document returns a whole file, served from cache when the file has not
// changed since it was last read.
func (s *Store) Document(name string) ([]byte, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	info, err := s.stat(name)
	if err != nil {
		return nil, err
	}

	if doc, ok := s.cache.Get(name); ok && doc.size == info.Size() && doc.modTime.Equal(info.ModTime()) {
		atomic.AddUint64(&s.hits, 1)
		return doc.body, nil
	}
	atomic.AddUint64(&s.misses, 1)

	body, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	s.cache.Add(name, document{size: info.Size(), modTime: info.ModTime(), body: body})
	return body, nil
}

// Open returns a reader for a media file. The caller closes it.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	f, err := s.fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, name)
	}
	return f, nil
}

// Stats returns cumulative landing cache hits and misses.
func (s *Store) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&s.hits), atomic.LoadUint64(&s.misses)
}

func (s *Store) stat(name string) (fs.FileInfo, error) {
	info, err := fs.Stat(s.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, name)
	}
	return info, nil
}

// cleanName turns a route-style name ("/image.jpg") into an fs path.
func cleanName(name string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(name, "/"))
	if cleaned == "." || !fs.ValidPath(cleaned) {
		return "", fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	return cleaned, nil
}
