package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/xeptore/qqgrab/cache"
	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/httputil"
	"github.com/xeptore/qqgrab/qq/auth"
)

const (
	musicuURL      = "https://u.y.qq.com/cgi-bin/musicu.fcg"
	coverURLFormat = "https://y.qq.com/music/photo_new/T002R800x800M000%s.jpg"
	pageSize       = 100
)

// Client talks to the catalog's RPC endpoint. All calls share a rate
// limiter so multiple workers don't hammer the service.
type Client struct {
	logger   zerolog.Logger
	auth     *auth.Auth
	conf     config.Catalog
	cache    *cache.Cache
	endpoint string
	limiter  *rate.Limiter
}

type Option func(*Client)

// WithEndpoint overrides the catalog RPC URL. Tests point it at a local
// server.
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

func New(logger zerolog.Logger, a *auth.Auth, conf config.Catalog, c *cache.Cache, opts ...Option) *Client {
	cl := &Client{
		logger:   logger,
		auth:     a,
		conf:     conf,
		cache:    c,
		endpoint: musicuURL,
		limiter:  rate.NewLimiter(rate.Limit(conf.RequestsPerSecond), 1),
	}

	for _, opt := range opts {
		opt(cl)
	}

	return cl
}

// call issues one musicu.fcg sub-request and returns the raw response body.
// Credentials close to expiry are refreshed before the request goes out, so
// a long batch keeps working past its token's original lifetime.
// Credential-related envelope codes surface as auth.ErrUnauthorized.
func (c *Client) call(
	ctx context.Context,
	timeout time.Duration,
	module, method string,
	param map[string]any,
) (b []byte, err error) {
	if err := c.limiter.Wait(ctx); nil != err {
		return nil, fmt.Errorf("wait for catalog rate limiter: %w", err)
	}

	body := map[string]any{
		"req": map[string]any{
			"module": module,
			"method": method,
			"param":  param,
		},
	}

	creds, err := c.auth.CredentialsOrRefresh(ctx, c.logger)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		// No usable credentials. Proceed anonymously; endpoints that need
		// auth answer with a credential envelope code.
	case nil != err:
		return nil, fmt.Errorf("get fresh credentials: %w", err)
	default:
		body["comm"] = map[string]any{
			"qq":           creds.MusicID,
			"authst":       creds.MusicKey,
			"tmeLoginType": 2,
		}
	}

	reqBody, err := json.Marshal(body)
	if nil != err {
		return nil, fmt.Errorf("encode catalog request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if nil != err {
		return nil, fmt.Errorf("create catalog request: %v", err)
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Referer", "https://y.qq.com/")

	client := http.Client{Timeout: timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}

		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}

		return nil, fmt.Errorf("send catalog request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close catalog response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, fmt.Errorf("read catalog response body: %v", err)
	}

	if ok, err := httputil.IsCredentialExpiredResponse(respBytes); nil != err {
		return nil, fmt.Errorf("check if response is credential expired: %v", err)
	} else if ok {
		return nil, auth.ErrUnauthorized
	}

	if ok, err := httputil.IsCredentialInvalidResponse(respBytes); nil != err {
		return nil, fmt.Errorf("check if response is credential invalid: %v", err)
	} else if ok {
		return nil, auth.ErrUnauthorized
	}

	return respBytes, nil
}
