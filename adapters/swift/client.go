package swift

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gostratum/core/logx"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/retrypolicy"
)

// Client is a minimal Swift TempAuth HTTP client: authenticate once against
// Settings.AuthURL with X-Auth-User/X-Auth-Key, cache the returned
// X-Storage-Url/X-Auth-Token pair, and re-authenticate on the first 401
// (spec §4.1 Swift remote; no SDK is available in this module's dependency
// surface for TempAuth/Keystone, so the client is hand-rolled on net/http,
// justified in DESIGN.md "adapters/swift, internal/swiftprovider").
type Client struct {
	http     *http.Client
	settings Settings
	logger   logx.Logger
	retry    *retrypolicy.Policy

	mu         sync.RWMutex
	storageURL string
	authToken  string
}

// NewClient builds a Client bound to settings, performing the initial
// TempAuth handshake before returning.
func NewClient(ctx context.Context, settings Settings, logger logx.Logger) (*Client, error) {
	if settings.AuthURL == "" {
		return nil, fmt.Errorf("swift: auth_url is required")
	}
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	c := &Client{
		http:     &http.Client{Timeout: settings.RequestTimeout},
		settings: settings,
		logger:   logger,
		retry: retrypolicy.New(retrypolicy.Config{
			InitialInterval: settings.BackoffInitial,
			MaxInterval:     settings.BackoffMax,
			MaxElapsedTime:  0,
			MaxAttempts:     settings.MaxRetries,
		}, nil),
	}
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) authenticate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.settings.AuthURL, nil)
	if err != nil {
		return fmt.Errorf("swift: build auth request: %w", err)
	}
	req.Header.Set("X-Auth-User", c.settings.User)
	req.Header.Set("X-Auth-Key", c.settings.Key)

	resp, err := c.http.Do(req)
	if err != nil {
		return cloudsync.NewError(cloudsync.KindTransientNetwork, "swift.authenticate", c.settings.AuthURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mapStatusError(resp.StatusCode, "swift.authenticate", c.settings.AuthURL)
	}

	storageURL := resp.Header.Get("X-Storage-Url")
	token := resp.Header.Get("X-Auth-Token")
	if storageURL == "" || token == "" {
		return cloudsync.NewError(cloudsync.KindAuth, "swift.authenticate", c.settings.AuthURL,
			fmt.Errorf("auth response missing storage url or token"))
	}

	c.mu.Lock()
	c.storageURL = storageURL
	c.authToken = token
	c.mu.Unlock()
	c.logger.Debug("swift authenticated", "storage_url", storageURL)
	return nil
}

func (c *Client) creds() (storageURL, token string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storageURL, c.authToken
}

// objectURL builds the absolute URL of container/name under the account's
// storage URL.
func (c *Client) objectURL(container, name string) string {
	storageURL, _ := c.creds()
	if name == "" {
		return storageURL + "/" + container
	}
	return storageURL + "/" + container + "/" + name
}

// do executes req, re-authenticating and retrying once on a 401, and
// retrying transient failures per the client's backoff policy. Callers own
// closing resp.Body.
func (c *Client) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	reauthed := false

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return fmt.Errorf("swift: build request: %w", err)
		}
		_, token := c.creds()
		req.Header.Set("X-Auth-Token", token)

		r, err := c.http.Do(req)
		if err != nil {
			return cloudsync.NewError(cloudsync.KindTransientNetwork, "swift.request", req.URL.Path, err)
		}

		if r.StatusCode == http.StatusUnauthorized && !reauthed {
			reauthed = true
			r.Body.Close()
			if authErr := c.authenticate(ctx); authErr != nil {
				return authErr
			}
			return cloudsync.NewError(cloudsync.KindTransientNetwork, "swift.request", req.URL.Path,
				fmt.Errorf("reauthenticated after 401, retrying"))
		}

		if r.StatusCode >= 300 {
			mapped := mapStatusError(r.StatusCode, "swift.request", req.URL.Path)
			r.Body.Close()
			return mapped
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoRaw builds and executes one Swift request against container/name
// (name may be "" to address the container itself), applying query values
// and a header-mutating hook, handling auth and retry, and mapping
// non-2xx responses to a *cloudsync.CloudSyncError. newBody is called
// fresh on every attempt so a retried request resends the full body
// instead of a drained reader; it may be nil for bodiless requests. The
// caller owns closing the returned response's body.
func (c *Client) DoRaw(ctx context.Context, method, container, name string, query url.Values, mutate func(*http.Request), newBody func() io.Reader) (*http.Response, error) {
	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		u := c.objectURL(container, name)
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var body io.Reader
		if newBody != nil {
			body = newBody()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return nil, err
		}
		if mutate != nil {
			mutate(req)
		}
		return req, nil
	})
}

// Ping validates connectivity by heading the account's storage URL, used
// by the health check.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	storageURL, _ := c.creds()
	resp, err := c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodHead, storageURL, nil)
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// StorageURL returns the account's storage URL, for the health check label.
func (c *Client) StorageURL() string {
	storageURL, _ := c.creds()
	return storageURL
}

// Close is a no-op, mirroring adapters/s3.ClientManager.Close; it closes no
// connections. Factory.Close calls it at daemon shutdown.
func (c *Client) Close() error { return nil }
