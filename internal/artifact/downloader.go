package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrUnsupportedLocation = errors.New("unsupported output location")

// Downloader fetches the result artifact of a completed job.
type Downloader interface {
	Supports(u *url.URL) bool
	Get(ctx context.Context, u *url.URL, dst io.Writer) (int64, error)
	Type() string
}

type Manager struct {
	downloaders []Downloader // in the order of the registration
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(downloader Downloader) *Manager {
	m.downloaders = append(m.downloaders, downloader)
	return m
}

// Download writes the artifact at location into dst using the first
// registered downloader that supports its scheme.
func (m *Manager) Download(ctx context.Context, location string, dst io.Writer) (int64, error) {
	u, err := url.Parse(strings.TrimSpace(location))
	if err != nil || u.Scheme == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedLocation, location)
	}

	for _, d := range m.downloaders {
		if !d.Supports(u) {
			continue
		}
		zap.S().Named("artifact").Infow("downloading artifact", "downloader_type", d.Type(), "host", u.Host)
		n, err := d.Get(ctx, u, dst)
		if err != nil {
			return n, fmt.Errorf("%s download failed: %w", d.Type(), err)
		}
		return n, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnsupportedLocation, location)
}

// FileName picks a local file name for the artifact at location.
func FileName(location, fallback string) string {
	if u, err := url.Parse(location); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return fallback
}

// wrapper counts the bytes written to w and logs the progress periodically.
type wrapper struct {
	downloadedBytes atomic.Int64
	total           int64
	w               io.Writer
}

func newWrapper(ctx context.Context, w io.Writer, totalBytesToDownload int64) *wrapper {
	mw := &wrapper{w: w, total: totalBytesToDownload}
	go mw.start(ctx)

	return mw
}

func (m *wrapper) start(ctx context.Context) {
	oldValue := int64(0)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			downloaded := m.downloadedBytes.Load()
			if m.total <= 0 {
				zap.S().Named("artifact").Debugw("downloading", "progress", fmt.Sprintf("%.2f Mb", float32(downloaded)/(1024*1024)))
				continue
			}

			progress := fmt.Sprintf("%.2f%%", 100*(float32(downloaded)/float32(m.total)))
			rate := fmt.Sprintf("%.2f MB/s", (float32(downloaded)-float32(oldValue))/(1024*1024*10))
			zap.S().Named("artifact").Debugw("downloading", "progress", progress, "rate", rate)
			oldValue = downloaded
		}
	}
}

func (m *wrapper) Write(p []byte) (n int, err error) {
	n, err = m.w.Write(p)
	m.downloadedBytes.Add(int64(n))
	return
}

// check fails when a known size was not fully received.
func (m *wrapper) check() error {
	if m.total > 0 && m.total != m.downloadedBytes.Load() {
		return fmt.Errorf("incomplete download: expected %d bytes, received %d", m.total, m.downloadedBytes.Load())
	}
	return nil
}
