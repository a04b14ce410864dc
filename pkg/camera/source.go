package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FrameSource produces still frames on demand.
// Constructing a source binds the camera; Close releases it.
type FrameSource interface {
	// Capture returns one fresh frame. The caller owns it and must Release it.
	Capture(ctx context.Context) (*Frame, error)

	// Close releases the underlying device or connection.
	Close() error
}

// FileSource replays image files from disk, one per Capture, in name order.
// It wraps around after the last file.
type FileSource struct {
	files []string
	next  int
	mu    sync.Mutex
}

// NewFileSource accepts a single image file or a directory of .jpg/.jpeg/.png files.
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}

	if !info.IsDir() {
		return &FileSource{files: []string{path}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("file source: no images in %s", path)
	}
	sort.Strings(files)

	return &FileSource{files: files}, nil
}

// Capture reads the next file.
func (s *FileSource) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.files == nil {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return DecodeBytes(data)
}

// Files returns the replay list.
func (s *FileSource) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Close forgets the file list.
func (s *FileSource) Close() error {
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
	return nil
}

// HTTPSource fetches a still image from a snapshot URL on every Capture,
// as served by IP cameras and mjpg-streamer's ?action=snapshot.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a snapshot source. A nil client gets a 10s timeout.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{url: url, client: client}
}

// maxSnapshotBytes bounds a single snapshot download.
const maxSnapshotBytes = 16 << 20

// Capture downloads and wraps one snapshot.
func (s *HTTPSource) Capture(ctx context.Context) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("snapshot read: %w", err)
	}
	return DecodeBytes(data)
}

// Close releases idle connections.
func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Verify sources implement FrameSource at compile time.
var (
	_ FrameSource = (*FileSource)(nil)
	_ FrameSource = (*HTTPSource)(nil)
)
