package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

const (
	defaultDownloadCap    = int64(2 << 30) // 2 GiB
	downloadAttempts      = 3
	downloadRetryDelay    = 2 * time.Second
	downloadClientTimeout = 10 * time.Minute
)

// IsRemote reports whether the media path is an HTTP(S) URL rather than a
// local file.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// Downloader fetches remote media over HTTP(S) into a job's work directory.
type Downloader struct {
	client     *http.Client
	maxBytes   int64
	attempts   int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewDownloader builds a Downloader capped at maxBytes per file; zero or
// negative means the default cap.
func NewDownloader(maxBytes int64, log *slog.Logger) *Downloader {
	if maxBytes <= 0 {
		maxBytes = defaultDownloadCap
	}
	return &Downloader{
		client:     &http.Client{Timeout: downloadClientTimeout},
		maxBytes:   maxBytes,
		attempts:   downloadAttempts,
		retryDelay: downloadRetryDelay,
		log:        log,
	}
}

// Fetch downloads rawURL into dir and returns the local file path. Server and
// network failures are retried with linear backoff; client errors, rejected
// content types, and oversized bodies abort immediately. Exhausted attempts
// surface as ErrSourceUnreadable.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	dest := filepath.Join(dir, "source"+remoteExt(rawURL))

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			delay := d.retryDelay * time.Duration(attempt-1)
			d.log.Warn("retrying media download", "url", rawURL, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		err := d.fetchOnce(ctx, rawURL, dest)
		if err == nil {
			return dest, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return "", fmt.Errorf("%w: download %s: %v", models.ErrSourceUnreadable, rawURL, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &validationError{msg: "build request: " + err.Error()}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, status: resp.Status}
	}
	if ct := resp.Header.Get("Content-Type"); !allowedMediaType(ct) {
		return &validationError{msg: "unsupported content type " + ct}
	}
	if resp.ContentLength > d.maxBytes {
		return &validationError{msg: fmt.Sprintf("content length %d exceeds limit %d", resp.ContentLength, d.maxBytes)}
	}

	f, err := os.Create(dest)
	if err != nil {
		return &validationError{msg: "create file: " + err.Error()}
	}
	defer f.Close()

	// One extra byte past the cap distinguishes at-limit from over it.
	n, err := io.Copy(f, io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		os.Remove(dest)
		return err
	}
	if n > d.maxBytes {
		os.Remove(dest)
		return &validationError{msg: fmt.Sprintf("download exceeds limit %d", d.maxBytes)}
	}

	d.log.Info("remote media downloaded", "url", rawURL, "bytes", n, "dest", dest)
	return nil
}

// statusError is a non-2xx HTTP response.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string { return "unexpected response status: " + e.status }

// validationError marks failures no retry can fix.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

// retryable reports whether another attempt could succeed: server overload
// and transport failures retry, everything else aborts.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	var ve *validationError
	return !errors.As(err, &ve)
}

// allowedMediaType accepts media streams plus the opaque types object stores
// commonly serve files under.
func allowedMediaType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream":
		return true
	case strings.HasPrefix(ct, "video/"), strings.HasPrefix(ct, "audio/"):
		return true
	}
	return false
}

// remoteExt keeps the URL's file extension when it looks like one, so the
// downloaded file keeps a familiar name for ffmpeg.
func remoteExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".bin"
	}
	ext := path.Ext(u.Path)
	if ext == "" || len(ext) > 8 {
		return ".bin"
	}
	return ext
}
