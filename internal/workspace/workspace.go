// Package workspace manages the scratch directories an ingestion request
// stages intermediate artifacts in. Every request gets its own namespace
// under the configured root so concurrent requests never share a directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Well-known scratch directory names.
const (
	DirPDFs            = "pdfs"
	DirExtractedImages = "extracted_images"
	DirVideos          = "videos"
	DirVideoFrames     = "video_frames"
	DirTextFiles       = "text_files"
)

// DefaultDirs is the directory set used by the ingestion pipeline.
var DefaultDirs = []string{DirPDFs, DirExtractedImages, DirVideos, DirVideoFrames, DirTextFiles}

var ErrInvalidRequestID = errors.New("invalid workspace request id")

type Manager struct {
	root string
	dirs []string
}

func NewManager(root string, dirs ...string) *Manager {
	if len(dirs) == 0 {
		dirs = DefaultDirs
	}
	return &Manager{root: root, dirs: dirs}
}

// Acquire prepares fresh directories for requestID. Anything already present
// at those paths is removed first. On error nothing is left behind.
func (m *Manager) Acquire(requestID string) (*Workspace, error) {
	if requestID == "" || requestID == "." || requestID == ".." || strings.ContainsAny(requestID, `/\`) {
		return nil, ErrInvalidRequestID
	}
	base := filepath.Join(m.root, requestID)
	ws := &Workspace{base: base, dirs: make(map[string]string, len(m.dirs))}

	for _, name := range m.dirs {
		path := filepath.Join(base, name)
		if err := os.RemoveAll(path); err != nil {
			_ = os.RemoveAll(base)
			return nil, fmt.Errorf("clear workspace dir %s failed: %w", name, err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			_ = os.RemoveAll(base)
			return nil, fmt.Errorf("create workspace dir %s failed: %w", name, err)
		}
		ws.dirs[name] = path
	}
	return ws, nil
}

type Workspace struct {
	base string
	dirs map[string]string

	once       sync.Once
	releaseErr error
}

func (w *Workspace) Root() string {
	return w.base
}

// Dir returns the absolute path of a named directory, or "" if the manager
// was not configured with it.
func (w *Workspace) Dir(name string) string {
	return w.dirs[name]
}

// Release removes the whole request namespace. Safe to call more than once.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.base); err != nil {
			w.releaseErr = fmt.Errorf("remove workspace failed: %w", err)
		}
	})
	return w.releaseErr
}
