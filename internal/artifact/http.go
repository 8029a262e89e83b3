package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type HttpDownloader struct {
	client *http.Client
}

func NewHttpDownloader(client *http.Client) *HttpDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HttpDownloader{client: client}
}

func (h *HttpDownloader) Supports(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

func (h *HttpDownloader) Get(ctx context.Context, u *url.URL, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to download %q, status code: %d", u.Redacted(), resp.StatusCode)
	}

	newCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	mw := newWrapper(newCtx, dst, resp.ContentLength)

	if _, err := io.Copy(mw, resp.Body); err != nil {
		return mw.downloadedBytes.Load(), err
	}
	return mw.downloadedBytes.Load(), mw.check()
}

func (h *HttpDownloader) Type() string {
	return "http"
}
