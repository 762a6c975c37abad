package qq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/xeptore/qqgrab/cache"
	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/qq/auth"
	"github.com/xeptore/qqgrab/qq/catalog"
	"github.com/xeptore/qqgrab/qq/downloader"
	"github.com/xeptore/qqgrab/qq/fs"
	"github.com/xeptore/qqgrab/qq/store"
	"github.com/xeptore/qqgrab/qq/types"
	"github.com/xeptore/qqgrab/result"
)

type Client struct {
	store          *store.Store
	auth           *auth.Auth
	catalog        *catalog.Client
	dl             *downloader.Downloader
	conf           *config.Config
	DownloadsDirFs fs.DownloadsDir
	loginSem       chan struct{}
	downloadSem    chan struct{}
}

func NewClient(logger zerolog.Logger, conf *config.Config) (*Client, error) {
	s, err := store.Open(conf.Creds.Path)
	if nil != err {
		return nil, fmt.Errorf("failed to open credentials store: %v", err)
	}

	a, err := auth.New(s)
	if nil != err {
		return nil, errors.Join(
			fmt.Errorf("failed to create auth: %v", err),
			s.Close(),
		)
	}

	var (
		c       = cache.New()
		cat     = catalog.New(logger, a, conf.Catalog, c)
		dlDirFs = fs.DownloadsDirFrom(conf.Downloader.Dir)
		dl      = downloader.New(conf.Downloader, cat, downloader.NewFFmpegTagger())
	)

	return &Client{
		store:          s,
		auth:           a,
		catalog:        cat,
		dl:             dl,
		conf:           conf,
		DownloadsDirFs: dlDirFs,
		loginSem:       make(chan struct{}, 1),
		downloadSem:    make(chan struct{}, 1),
	}, nil
}

func (c *Client) Close() error {
	if err := c.store.Close(); nil != err {
		return fmt.Errorf("failed to close credentials store: %v", err)
	}

	return nil
}

var (
	ErrLoginRequired        = errors.New("login required")
	ErrDownloadInProgress   = errors.New("download in progress")
	ErrUnauthorized         = auth.ErrUnauthorized
	ErrLoginInProgress      = auth.ErrLoginInProgress
	ErrLoginLinkExpired     = auth.ErrLoginLinkExpired
	ErrLoginRefused         = auth.ErrLoginRefused
	errCredentialsRefreshed = errors.New("credentials refreshed")
)

func (c *Client) TryInitiateLoginFlow(
	ctx context.Context,
	logger zerolog.Logger,
	provider auth.Provider,
) (*auth.LoginQR, <-chan result.Of[auth.Credentials], error) {
	select {
	case c.loginSem <- struct{}{}:
		logger.Debug().Msg("Initiating login flow")
		defer func() { <-c.loginSem }()
		qr, wait, err := c.auth.InitiateLoginFlow(ctx, provider)
		if nil != err {
			return nil, nil, fmt.Errorf("failed to initiate login flow: %w", err)
		}

		return qr, wait, nil
	default:
		logger.Debug().Msg("Another login in progress")
		return nil, nil, ErrLoginInProgress
	}
}

// Credentials returns the in-memory credentials snapshot. It never touches
// the network.
func (c *Client) Credentials() *auth.Credentials {
	return c.auth.Credentials()
}

// RefreshCredentials forces a credential refresh regardless of how close to
// expiry the current ones are.
func (c *Client) RefreshCredentials(ctx context.Context, logger zerolog.Logger) error {
	if c.auth.Credentials().Absent() {
		return ErrLoginRequired
	}

	if err := c.auth.RefreshToken(ctx, logger); nil != err {
		if errors.Is(err, auth.ErrUnauthorized) {
			return ErrLoginRequired
		}

		return fmt.Errorf("failed to refresh credentials: %w", err)
	}

	return nil
}

// Logout discards the stored credentials.
func (c *Client) Logout() error {
	if err := c.auth.Clear(); nil != err {
		return fmt.Errorf("failed to clear credentials: %v", err)
	}

	return nil
}

// Search queries the song catalog. It works without credentials, although
// logged-in sessions may see more complete results.
func (c *Client) Search(ctx context.Context, keyword string, limit int) ([]types.Track, error) {
	return c.catalog.Search(ctx, keyword, limit)
}

// UserPlaylists lists the playlists a user created, for picking one to
// download by its id.
func (c *Client) UserPlaylists(ctx context.Context, uin string) ([]types.PlaylistRef, error) {
	return c.catalog.UserPlaylists(ctx, uin)
}

// TryDownloadPlaylist downloads every track of the playlist into a
// directory named after it, and reports a per-track summary. Only one
// download runs at a time.
func (c *Client) TryDownloadPlaylist(
	ctx context.Context,
	logger zerolog.Logger,
	id int64,
) (*types.BatchSummary, error) {
	return c.tryDownload(ctx, logger, func(ctx context.Context) (*types.BatchSummary, error) {
		playlist, err := c.catalog.Playlist(ctx, id)
		if nil != err {
			return nil, fmt.Errorf("failed to get playlist: %w", err)
		}

		logger.
			Info().
			Str("title", playlist.Title).
			Int("tracks", len(playlist.Tracks)).
			Msg("Downloading playlist")

		dir, err := c.DownloadsDirFs.Playlist(playlist.Title)
		if nil != err {
			return nil, fmt.Errorf("failed to create playlist directory: %v", err)
		}

		prefs := types.ProfileFor(c.conf.Downloader.PreferLossless)

		return c.dl.DownloadBatch(ctx, logger, dir, playlist.Tracks, prefs), nil
	})
}

// TryDownloadTrack downloads a single track into the downloads root.
func (c *Client) TryDownloadTrack(
	ctx context.Context,
	logger zerolog.Logger,
	track types.Track,
) (*types.BatchSummary, error) {
	return c.tryDownload(ctx, logger, func(ctx context.Context) (*types.BatchSummary, error) {
		prefs := types.ProfileFor(c.conf.Downloader.PreferLossless)

		return c.dl.DownloadBatch(ctx, logger, c.DownloadsDirFs, []types.Track{track}, prefs), nil
	})
}

func (c *Client) tryDownload(
	ctx context.Context,
	logger zerolog.Logger,
	dl func(ctx context.Context) (*types.BatchSummary, error),
) (*types.BatchSummary, error) {
	select {
	case c.downloadSem <- struct{}{}:
		defer func() { <-c.downloadSem }()

		var summary *types.BatchSummary
		err := retry.Do(
			ctx,
			retry.WithMaxRetries(3, retry.NewFibonacci(1*time.Second)),
			func(ctx context.Context) error {
				if _, err := c.auth.CredentialsOrRefresh(ctx, logger); nil != err {
					if errors.Is(err, auth.ErrUnauthorized) {
						return ErrLoginRequired
					}

					if errors.Is(err, context.DeadlineExceeded) {
						return retry.RetryableError(context.DeadlineExceeded)
					}

					return fmt.Errorf("failed to get fresh credentials: %w", err)
				}

				s, err := dl(ctx)
				if nil != err {
					if errors.Is(err, context.DeadlineExceeded) {
						return retry.RetryableError(context.DeadlineExceeded)
					}

					if errors.Is(err, auth.ErrUnauthorized) {
						// Credentials went stale mid-run. Refresh and go again.
						if err := c.auth.RefreshToken(ctx, logger); nil != err {
							if errors.Is(err, auth.ErrUnauthorized) {
								return ErrLoginRequired
							}

							return fmt.Errorf("failed to refresh credentials: %w", err)
						}

						return retry.RetryableError(errCredentialsRefreshed)
					}

					return err
				}

				summary = s

				return nil
			},
		)
		if nil != err {
			return nil, fmt.Errorf("failed to download after retries: %w", err)
		}

		return summary, nil
	default:
		logger.Debug().Msg("Another download in progress")
		return nil, ErrDownloadInProgress
	}
}
