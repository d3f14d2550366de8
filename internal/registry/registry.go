// Package registry implements the HTTP JSON client for the package
// registry protocol (spec §4.E): package index/version lookups, signed
// tarball URLs, publish/yank/unyank, and the CLI auth endpoints. It is
// grounded on the teacher's internal/packagemanager/httpregistry.go —
// same retry/backoff shape, same singleflight request coalescing,
// same Bearer-token loading — generalized from Orizon's CID/manifest
// protocol to tz's package-index + signed-CDN-URL protocol.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/resolver"
)

// VersionEntry is one entry of the versions map returned by the package
// detail and versions endpoints.
type VersionEntry struct {
	Dependencies  map[string]string `json:"dependencies"`
	Compatibility map[string]string `json:"compatibility,omitempty"`
	PublishedAt   string            `json:"publishedAt"`
	Yanked        bool              `json:"yanked"`
	YankedReason  string            `json:"yankedReason,omitempty"`
	Integrity     string            `json:"integrity,omitempty"`
}

// PackageDetail is the response of GET /packages/v1/<owner>/<slug>.
type PackageDetail struct {
	Name        string                  `json:"name"`
	Owner       string                  `json:"owner"`
	Description string                  `json:"description,omitempty"`
	Latest      string                  `json:"latest"`
	Versions    map[string]VersionEntry `json:"versions"`
}

// TarballLocation is the response of the tarball URL endpoint: a signed,
// short-expiry URL plus the registry-declared integrity for verification.
type TarballLocation struct {
	URL       string `json:"url"`
	Integrity string `json:"integrity"`
}

// PublishResult is returned by the publish endpoint.
type PublishResult struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	URL     string `json:"url"`
}

// Client talks to one registry base URL over HTTPS (plaintext permitted
// only for localhost, per spec §4.E transport rules).
type Client struct {
	base   string
	token  string
	client *http.Client

	mu    sync.RWMutex
	ttl   time.Duration
	cache map[string]cacheEntry
	sf    singleflight.Group
}

type cacheEntry struct {
	at   time.Time
	body []byte
}

// New constructs a Client for baseURL. token may be empty for
// unauthenticated requests.
func New(baseURL, token string) (*Client, error) {
	if err := validateTransport(baseURL); err != nil {
		return nil, err
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		token:  strings.TrimSpace(token),
		client: &http.Client{Transport: tr, Timeout: 30 * time.Second},
		ttl:    30 * time.Second,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// validateTransport enforces spec §4.E: HTTPS required, plaintext
// permitted only for localhost (the test harness).
func validateTransport(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse registry URL", err)
	}
	if u.Scheme == "https" {
		return nil
	}
	host := u.Hostname()
	if u.Scheme == "http" && (host == "localhost" || host == "127.0.0.1" || host == "::1") {
		return nil
	}
	return errs.New(errs.KindSecurity, "registry URL must be HTTPS (plaintext only permitted for localhost): "+baseURL)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "build registry request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := c.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
		}
	}
	return nil, errs.Wrap(errs.KindNetwork, "registry request failed after retries", lastErr)
}

// classifyStatus maps the declared error-surfacing rules of spec §4.E.
func classifyStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusUnauthorized:
		return errs.New(errs.KindAuthRequired, "registry request requires authentication")
	case http.StatusNotFound:
		return errs.New(errs.KindPackageNotFound, "package or version not found")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errs.New(errs.KindNetwork, fmt.Sprintf("registry returned %d: %s", resp.StatusCode, string(body)))
	}
}

// Index returns the full package index (GET /packages/v1).
func (c *Client) Index(ctx context.Context) ([]PackageDetail, error) {
	var out []PackageDetail
	if err := c.getJSON(ctx, "/packages/v1", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Detail fetches one package's full detail, including its versions map.
func (c *Client) Detail(ctx context.Context, owner, slug string) (*PackageDetail, error) {
	var out PackageDetail
	if err := c.getJSON(ctx, fmt.Sprintf("/packages/v1/%s/%s", owner, slug), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Versions fetches just the versions map for a package.
func (c *Client) Versions(ctx context.Context, owner, slug string) (map[string]VersionEntry, error) {
	var out map[string]VersionEntry
	if err := c.getJSON(ctx, fmt.Sprintf("/packages/v1/%s/%s/versions", owner, slug), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TarballURL resolves the signed download URL for one version.
func (c *Client) TarballURL(ctx context.Context, owner, slug, version string) (*TarballLocation, error) {
	var out TarballLocation
	if err := c.getJSON(ctx, fmt.Sprintf("/packages/v1/%s/%s/tarball/%s", owner, slug, version), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadTarball follows a signed CDN URL and returns the raw tarball
// bytes. The query string on loc.URL is never persisted by the caller —
// internal/lockfile.StripQuery handles that before the lockfile is
// written.
func (c *Client) DownloadTarball(ctx context.Context, loc *TarballLocation) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, http.NoBody)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "build tarball download request", err)
	}
	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "read tarball body", err)
	}
	return data, nil
}

// Publish uploads a package as multipart form data: a JSON metadata part
// and a gzip tarball part, per spec §4.E.
func (c *Client) Publish(ctx context.Context, owner, slug string, metadata any, tarball []byte) (*PublishResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaWriter, err := mw.CreateFormField("metadata")
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "create metadata form field", err)
	}
	if err := json.NewEncoder(metaWriter).Encode(metadata); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "encode publish metadata", err)
	}

	tarWriter, err := mw.CreateFormFile("tarball", slug+".tgz")
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "create tarball form field", err)
	}
	if _, err := tarWriter.Write(tarball); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "write tarball form field", err)
	}
	if err := mw.Close(); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "close multipart writer", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/packages/v1/%s/%s/publish", owner, slug), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	var out PublishResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "decode publish response", err)
	}
	return &out, nil
}

// Yank marks a version as yanked with a reason.
func (c *Client) Yank(ctx context.Context, owner, slug, version, reason string) error {
	return c.postAction(ctx, fmt.Sprintf("/packages/v1/%s/%s/yank/%s", owner, slug, version), map[string]string{"reason": reason})
}

// Unyank reverses Yank.
func (c *Client) Unyank(ctx context.Context, owner, slug, version string) error {
	return c.postAction(ctx, fmt.Sprintf("/packages/v1/%s/%s/unyank/%s", owner, slug, version), nil)
}

func (c *Client) postAction(ctx context.Context, path string, body any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindInvalidArgument, "encode request body", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus(resp)
}

// getJSON performs a GET, decoding the JSON body into out, coalescing
// concurrent identical requests via singleflight and caching successful
// responses for a short TTL.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	c.mu.RLock()
	if e, ok := c.cache[path]; ok && time.Since(e.at) < c.ttl {
		c.mu.RUnlock()
		return json.Unmarshal(e.body, out)
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do(path, func() (any, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, http.NoBody)
		if err != nil {
			return nil, err
		}
		resp, err := c.doWithRetry(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := classifyStatus(resp); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.Wrap(errs.KindNetwork, "read response body", err)
		}
		c.mu.Lock()
		c.cache[path] = cacheEntry{at: time.Now(), body: body}
		c.mu.Unlock()
		return body, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), out)
}

// Index adapts a Client's Versions lookup to resolver.Index, so the
// resolver can query the live registry exactly as it queries
// resolver.MapIndex in tests.
type Index struct {
	Client *Client
	Ctx    context.Context
}

func (i Index) Versions(name string) ([]resolver.VersionInfo, error) {
	owner, slug := splitScopedName(name)
	versions, err := i.Client.Versions(i.Ctx, owner, slug)
	if err != nil {
		return nil, err
	}
	out := make([]resolver.VersionInfo, 0, len(versions))
	for v, entry := range versions {
		out = append(out, resolver.VersionInfo{
			Version:      v,
			Dependencies: entry.Dependencies,
			Yanked:       entry.Yanked,
			YankedReason: entry.YankedReason,
		})
	}
	return out, nil
}

func splitScopedName(name string) (owner, slug string) {
	trimmed := strings.TrimPrefix(name, "@")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return trimmed, ""
}
