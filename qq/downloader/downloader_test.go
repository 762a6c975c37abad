package downloader_test

import (
	"context"
	"sync/atomic"

	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/qq/downloader"
	"github.com/xeptore/qqgrab/qq/types"
)

type fakeCatalog struct {
	mediaURL  func(ctx context.Context, trackMID string, quality types.Quality) (string, error)
	cover     func(ctx context.Context, albumMID string) ([]byte, error)
	mediaHits atomic.Int64
}

func (c *fakeCatalog) MediaURL(ctx context.Context, trackMID string, quality types.Quality) (string, error) {
	c.mediaHits.Add(1)

	return c.mediaURL(ctx, trackMID, quality)
}

func (c *fakeCatalog) Cover(ctx context.Context, albumMID string) ([]byte, error) {
	if nil == c.cover {
		return nil, nil
	}

	return c.cover(ctx, albumMID)
}

type fakeTagger struct {
	err   error
	calls atomic.Int64
}

func (t *fakeTagger) Apply(ctx context.Context, path string, tags downloader.Tags) error {
	t.calls.Add(1)

	return t.err
}

func testConf() config.Downloader {
	return config.Downloader{
		Dir:             "",
		Concurrency:     4,
		MinTrackSize:    16,
		PreferLossless:  true,
		DownloadTimeout: 10,
		FetchRetries:    1,
	}
}
