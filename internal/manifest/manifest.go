// Package manifest produces the DatasetManifest of an edition from the
// catalog service's catalog-base document, either saved to disk or fetched
// live with a bearer token.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/fetch"
	"github.com/agentic-research/cominavi/internal/syncerr"
)

// Paths of the consumed fields in the catalog-base document.
const (
	PathPrimaryURL    = "$.response.url.textdb_sqlite3_url_ssl"
	PathImageryURL    = "$.response.url.imagedb1_url_ssl"
	PathPrimaryDigest = "$.response.md5.textdb_sqlite3_url_ssl"
	PathImageryDigest = "$.response.md5.imagedb1_url_ssl"
	PathUpdatedAt     = "$.response.updatedate"
	PathStatus        = "$.status"
)

// DefaultBaseURL is the catalog service API root.
const DefaultBaseURL = "https://api1-sandbox.circle.ms"

// ErrMissingField is returned when a required field is absent or not a string.
var ErrMissingField = errors.New("catalog-base field missing")

type TokenSource = fetch.TokenSource

// EnvToken reads the bearer token from the named environment variable on
// every request.
type EnvToken string

func (e EnvToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

var compiled = map[string]jp.Expr{}

func init() {
	for _, p := range []string{PathPrimaryURL, PathImageryURL, PathPrimaryDigest, PathImageryDigest, PathUpdatedAt, PathStatus} {
		compiled[p] = jp.MustParseString(p)
	}
}

func str(doc any, path string) (string, bool) {
	for _, v := range compiled[path].Get(doc) {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// Parse extracts the manifest from a catalog-base JSON document. Digests are
// normalized to lowercase.
func Parse(data []byte) (api.DatasetManifest, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return api.DatasetManifest{}, fmt.Errorf("parse catalog-base: %w", err)
	}
	if status, ok := str(doc, PathStatus); ok && status != "" && !strings.EqualFold(status, "success") {
		return api.DatasetManifest{}, fmt.Errorf("catalog-base status %q", status)
	}

	var m api.DatasetManifest
	fields := []struct {
		path string
		dst  *string
	}{
		{PathPrimaryURL, &m.Primary.URL},
		{PathPrimaryDigest, &m.Primary.Digest},
		{PathImageryURL, &m.Imagery.URL},
		{PathImageryDigest, &m.Imagery.Digest},
	}
	for _, f := range fields {
		v, ok := str(doc, f.path)
		if !ok || strings.TrimSpace(v) == "" {
			return api.DatasetManifest{}, fmt.Errorf("%w: %s", ErrMissingField, f.path)
		}
		*f.dst = strings.TrimSpace(v)
	}
	m.Primary.Digest = strings.ToLower(m.Primary.Digest)
	m.Imagery.Digest = strings.ToLower(m.Imagery.Digest)
	m.UpdatedAt, _ = str(doc, PathUpdatedAt)
	return m, nil
}

// LoadFile parses a saved catalog-base document.
func LoadFile(path string) (api.DatasetManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.DatasetManifest{}, fmt.Errorf("%w: read manifest: %w", syncerr.ErrIO, err)
	}
	return Parse(data)
}

// Client fetches catalog-base documents from the catalog service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	Logger  *slog.Logger
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// CatalogBaseURL is the endpoint listing the snapshots of an event.
func (c *Client) CatalogBaseURL(eventID int) string {
	q := url.Values{"event_Id": {strconv.Itoa(eventID)}}
	return c.baseURL() + "/CatalogBase/All/?" + q.Encode()
}

// Fetch requests the catalog-base document of eventID and parses it.
func (c *Client) Fetch(ctx context.Context, eventID int) (api.DatasetManifest, error) {
	u := c.CatalogBaseURL(eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return api.DatasetManifest{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Tokens != nil {
		tok, err := c.Tokens.Token(ctx)
		if err != nil {
			return api.DatasetManifest{}, fmt.Errorf("catalog-base token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return api.DatasetManifest{}, fmt.Errorf("catalog-base %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return api.DatasetManifest{}, fmt.Errorf("catalog-base %s: HTTP %d", u, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.DatasetManifest{}, fmt.Errorf("catalog-base %s: %w", u, err)
	}
	m, err := Parse(data)
	if err != nil {
		return api.DatasetManifest{}, err
	}
	if c.Logger != nil {
		c.Logger.Info("manifest: fetched", "event", eventID, "updated", m.UpdatedAt)
	}
	return m, nil
}
