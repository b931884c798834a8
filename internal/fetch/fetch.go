// Package fetch streams one remote snapshot file into the cache.
//
// The destination is only ever replaced by a rename of a fully received,
// verified and decompressed temp file in the same directory; a failed or
// cancelled fetch leaves Dest exactly as it was.
package fetch

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/agentic-research/cominavi/internal/digest"
	"github.com/agentic-research/cominavi/internal/syncerr"
)

// ChunkSize is the body read size; progress is reported once per chunk.
const ChunkSize = 32 * 1024

var gzipMagic = []byte{0x1f, 0x8b}

// TokenSource supplies the bearer token for each request. An empty token
// sends no Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Request describes one file to fetch.
type Request struct {
	URL  string
	Dest string
	// Digest is the expected MD5 of the payload as served (before gunzip).
	// Empty skips verification.
	Digest string
}

// ProgressFunc receives cumulative bytes received and the Content-Length
// (-1 when the server did not send one).
type ProgressFunc func(completed, total int64)

// DownloadError is returned for every fetch failure. It matches
// syncerr.ErrDownload and its cause under errors.Is.
type DownloadError struct {
	URL    string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() []error { return []error{syncerr.ErrDownload, e.Err} }

// Fetcher downloads snapshot files over HTTP.
type Fetcher struct {
	Client *http.Client
	Tokens TokenSource
	Logger *slog.Logger
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Fetch downloads req.URL into req.Dest.
func (f *Fetcher) Fetch(ctx context.Context, req Request, onProgress ProgressFunc) error {
	fail := func(status int, err error) error {
		return &DownloadError{URL: req.URL, Status: status, Err: err}
	}

	dir := filepath.Dir(req.Dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fail(0, err)
	}
	// The digest covers the bytes as served; never let the transport decode them.
	httpReq.Header.Set("Accept-Encoding", "identity")
	if f.Tokens != nil {
		tok, err := f.Tokens.Token(ctx)
		if err != nil {
			return fail(0, fmt.Errorf("token: %w", err))
		}
		if tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := f.client().Do(httpReq)
	if err != nil {
		return fail(0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %q", resp.Status))
	}

	var temps []string
	defer func() {
		for _, p := range temps {
			_ = os.Remove(p)
		}
	}()

	base := filepath.Base(req.Dest)
	tmp, err := os.CreateTemp(dir, base+".*.part")
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	temps = append(temps, tmp.Name())

	n, err := copyWithProgress(tmp, resp.Body, resp.ContentLength, onProgress)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	f.logger().Debug("fetch: body received", "url", req.URL, "bytes", n)

	if req.Digest != "" {
		sum, err := digest.File(tmp.Name())
		if err != nil {
			return fail(resp.StatusCode, err)
		}
		if !digest.Equal(sum, req.Digest) {
			return fail(resp.StatusCode, fmt.Errorf("digest mismatch: expected %s, got %s", req.Digest, sum))
		}
	}

	final := tmp.Name()
	gz, err := isGzip(final)
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	if gz {
		out, err := gunzip(dir, base, final)
		if out != "" {
			temps = append(temps, out)
		}
		if err != nil {
			return fail(resp.StatusCode, fmt.Errorf("gunzip: %w", err))
		}
		final = out
	}

	if err := ctx.Err(); err != nil {
		return fail(resp.StatusCode, err)
	}
	if err := os.Rename(final, req.Dest); err != nil {
		return fail(resp.StatusCode, err)
	}
	f.logger().Info("fetch: stored", "url", req.URL, "dest", req.Dest, "gzip", gz)
	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	if total <= 0 {
		total = -1
	}
	buf := make([]byte, ChunkSize)
	var completed int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return completed, err
			}
			completed += int64(n)
			if onProgress != nil {
				onProgress(completed, total)
			}
		}
		if rerr == io.EOF {
			return completed, nil
		}
		if rerr != nil {
			return completed, rerr
		}
	}
}

func isGzip(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	head := make([]byte, len(gzipMagic))
	n, err := io.ReadFull(f, head)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Equal(head[:n], gzipMagic), nil
}

// gunzip decompresses src into a new temp file next to it and returns its
// path. The path is returned even on error so the caller can remove it.
func gunzip(dir, base, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	zr, err := gzip.NewReader(bufio.NewReaderSize(in, ChunkSize))
	if err != nil {
		return "", err
	}
	defer func() { _ = zr.Close() }()

	out, err := os.CreateTemp(dir, base+".*.inflate")
	if err != nil {
		return "", err
	}
	_, err = io.CopyBuffer(out, zr, make([]byte, ChunkSize))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return out.Name(), err
}
