package core

// source.go materializes an import source into the request's working
// directory. Every source ends up as a non-empty local file whose name
// carries the original extension; the caller's own files are never
// modified.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// materialize copies, downloads or writes src into dir and returns the
// local path. Unusable sources fail with ErrInvalidRequest.
func materialize(ctx context.Context, src Source, dir string, fetcher Fetcher, maxSize int64) (string, error) {
	var dest string

	switch src.Kind {
	case SourcePath:
		info, err := os.Stat(src.Path)
		if err != nil {
			return "", newError(ErrInvalidRequest, "open source", src.Path, err)
		}
		if !info.Mode().IsRegular() {
			return "", newError(ErrInvalidRequest, "open source", src.Path, errors.New("not a regular file"))
		}
		f, err := os.Open(src.Path)
		if err != nil {
			return "", newError(ErrInvalidRequest, "open source", src.Path, err)
		}
		defer f.Close()

		dest = filepath.Join(dir, safeFileName(src.Path))
		if err := writeLimited(dest, f, maxSize); err != nil {
			return dest, err
		}

	case SourceUpload:
		if src.Reader == nil {
			return "", newError(ErrInvalidRequest, "read upload", src.Filename, errors.New("no upload content"))
		}
		dest = filepath.Join(dir, safeFileName(src.Filename))
		if err := writeLimited(dest, src.Reader, maxSize); err != nil {
			return dest, err
		}

	case SourceURL:
		name, err := urlFileName(src.URL)
		if err != nil {
			return "", newError(ErrInvalidRequest, "parse source url", src.URL, err)
		}
		if fetcher == nil {
			return "", newError(ErrInvalidRequest, "download source", src.URL, errors.New("remote sources are disabled"))
		}
		dest = filepath.Join(dir, name)
		if err := fetcher.Fetch(ctx, src.URL, dest); err != nil {
			return dest, newError(ErrInvalidRequest, "download source", src.URL, err)
		}

	default:
		return "", newError(ErrInvalidRequest, "resolve source", "", errors.New("no source given"))
	}

	info, err := os.Stat(dest)
	if err != nil {
		return dest, newError(ErrInvalidRequest, "stat source", dest, err)
	}
	if info.Size() == 0 {
		return dest, newError(ErrInvalidRequest, "resolve source", sourceLabel(src), errors.New("source is empty"))
	}
	return dest, nil
}

// sourceName returns the file name a source will carry locally.
func sourceName(src Source) string {
	switch src.Kind {
	case SourcePath:
		return safeFileName(src.Path)
	case SourceUpload:
		return safeFileName(src.Filename)
	case SourceURL:
		if name, err := urlFileName(src.URL); err == nil {
			return name
		}
	}
	return ""
}

func sourceLabel(src Source) string {
	switch src.Kind {
	case SourcePath:
		return src.Path
	case SourceURL:
		return src.URL
	default:
		return src.Filename
	}
}

func writeLimited(dest string, r io.Reader, maxSize int64) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	_, copyErr := io.Copy(out, newSizeLimitReader(r, maxSize))
	closeErr := out.Close()

	if copyErr != nil {
		return newError(ErrInvalidRequest, "read source", dest, copyErr)
	}
	return closeErr
}

// safeFileName reduces name to a base name usable inside the work dir.
func safeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == "" || strings.HasPrefix(base, "..") {
		return "source" + filepath.Ext(base)
	}
	return base
}

func urlFileName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	return safeFileName(path.Base(u.Path)), nil
}

// HTTPFetcher downloads remote sources, retrying transient failures with
// exponential backoff.
type HTTPFetcher struct {
	Client   *http.Client
	Attempts int
	MaxSize  int64

	// Backoff is the base retry delay, doubled per attempt. Zero means
	// one second.
	Backoff time.Duration
}

// NewHTTPFetcher returns a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration, maxSize int64) *HTTPFetcher {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		Attempts: 3,
		MaxSize:  maxSize,
	}
}

// Fetch downloads url to dst.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dst string) error {
	attempts := f.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			base := f.Backoff
			if base <= 0 {
				base = time.Second
			}
			backoff := time.Duration(1<<uint(attempt)) * base
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := f.fetchOnce(ctx, url, dst)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
	}
	return fmt.Errorf("download %s failed after %d attempts: %w", url, attempts, lastErr)
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return permanentError{fmt.Errorf("create request: %w", err)}
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	default:
		return permanentError{fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)}
	}

	out, err := os.Create(dst)
	if err != nil {
		return permanentError{fmt.Errorf("create file: %w", err)}
	}
	_, copyErr := io.Copy(out, newSizeLimitReader(resp.Body, f.MaxSize))
	closeErr := out.Close()

	if errors.Is(copyErr, ErrFileTooLarge) {
		return permanentError{copyErr}
	}
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}
