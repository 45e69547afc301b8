// Package artifact spools uploaded audio into short-lived temp files owned
// by a single evaluation.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	ErrEmpty    = errors.New("audio artifact empty")
	ErrTooLarge = errors.New("audio artifact too large")
)

// Spool writes artifacts into dir (os.TempDir when empty) and caps them at
// maxBytes (unbounded when <= 0).
type Spool struct {
	dir      string
	maxBytes int64
}

func NewSpool(dir string, maxBytes int64) *Spool {
	return &Spool{dir: dir, maxBytes: maxBytes}
}

// Artifact is one spooled audio clip. Remove is idempotent and safe to call
// from a deferred cleanup on every exit path.
type Artifact struct {
	path string
	name string
	size int64

	once      sync.Once
	removeErr error
}

// Write copies r into a new temp file. Nothing is left on disk when it
// returns an error.
func (s *Spool) Write(r io.Reader, name string) (*Artifact, error) {
	if r == nil {
		return nil, ErrEmpty
	}
	f, err := os.CreateTemp(s.dir, "voicegate-audio-*")
	if err != nil {
		return nil, fmt.Errorf("create audio artifact: %w", err)
	}
	path := f.Name()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("write audio artifact: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("close audio artifact: %w", closeErr)
	case n == 0:
		_ = os.Remove(path)
		return nil, ErrEmpty
	case s.maxBytes > 0 && n > s.maxBytes:
		_ = os.Remove(path)
		return nil, ErrTooLarge
	}

	if name == "" {
		name = "audio.wav"
	}
	return &Artifact{path: path, name: name, size: n}, nil
}

// Open returns a fresh reader over the artifact. Each caller gets its own
// file handle so concurrent consumers do not share offsets.
func (a *Artifact) Open() (io.ReadCloser, error) {
	return os.Open(a.path)
}

func (a *Artifact) Size() int64      { return a.size }
func (a *Artifact) Filename() string { return a.name }
func (a *Artifact) Path() string     { return a.path }

func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.removeErr = err
		}
	})
	return a.removeErr
}
