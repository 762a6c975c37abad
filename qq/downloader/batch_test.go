package downloader_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/qq/downloader"
	"github.com/xeptore/qqgrab/qq/fs"
	"github.com/xeptore/qqgrab/qq/types"
)

func testTracks(n int) []types.Track {
	tracks := make([]types.Track, n)
	for i := range n {
		tracks[i] = types.Track{ //nolint:exhaustruct
			MID:    "mid" + string(rune('a'+i)),
			Title:  "Track " + string(rune('A'+i)),
			Artist: "Artist",
			Album:  "Album",
		}
	}

	return tracks
}

func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()

	payload := audioPayload(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func urlCatalog(srv *httptest.Server) *fakeCatalog {
	return &fakeCatalog{ //nolint:exhaustruct
		mediaURL: func(_ context.Context, trackMID string, q types.Quality) (string, error) {
			return srv.URL + "/" + q.Prefix() + trackMID + q.Ext(), nil
		},
	}
}

func TestDownloadBatchEmpty(t *testing.T) {
	t.Parallel()

	dl := downloader.New(testConf(), &fakeCatalog{}, &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, nil, types.ProfileLossless)
	assert.Zero(t, summary.Total())
	assert.Empty(t, summary.Results)
}

func TestDownloadBatchAllSucceed(t *testing.T) {
	t.Parallel()

	srv := newMediaServer(t)
	tagger := &fakeTagger{} //nolint:exhaustruct
	dl := downloader.New(testConf(), urlCatalog(srv), tagger)
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(3)

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, len(tracks), summary.Total())
	assert.Equal(t, int64(3), tagger.calls.Load())

	for _, track := range tracks {
		exists, err := dir.Track(track, types.QualityFlac).Exists()
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestDownloadBatchPerTrackIsolation(t *testing.T) {
	t.Parallel()

	srv := newMediaServer(t)
	cat := &fakeCatalog{ //nolint:exhaustruct
		mediaURL: func(_ context.Context, trackMID string, q types.Quality) (string, error) {
			if trackMID == "mida" {
				return "", nil
			}

			return srv.URL + "/" + q.Prefix() + trackMID + q.Ext(), nil
		},
	}
	dl := downloader.New(testConf(), cat, &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(5)

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, len(tracks), summary.Total())

	reasons := summary.FailureReasons()
	require.Contains(t, reasons, "mida")
	assert.Contains(t, reasons["mida"], "no usable quality")

	// The failed track must not leave anything behind, at any tier.
	for _, q := range types.ProfileLossless {
		file := dir.Track(tracks[0], q)
		_, err := os.Stat(file.Path)
		assert.ErrorIs(t, err, os.ErrNotExist)
		_, err = os.Stat(file.TempPath())
		assert.ErrorIs(t, err, os.ErrNotExist)
	}
}

func TestDownloadBatchNetworkFailureIsolation(t *testing.T) {
	t.Parallel()

	good := newMediaServer(t)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	t.Cleanup(bad.Close)

	cat := &fakeCatalog{ //nolint:exhaustruct
		mediaURL: func(_ context.Context, trackMID string, q types.Quality) (string, error) {
			if trackMID == "mida" {
				return bad.URL + "/" + q.Prefix() + trackMID + q.Ext(), nil
			}

			return good.URL + "/" + q.Prefix() + trackMID + q.Ext(), nil
		},
	}
	dl := downloader.New(testConf(), cat, &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(5)

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.FailureReasons()["mida"], "network error")
}

func TestDownloadBatchSkipsExistingTrack(t *testing.T) {
	t.Parallel()

	srv := newMediaServer(t)
	cat := urlCatalog(srv)
	dl := downloader.New(testConf(), cat, &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(1)

	existing := audioPayload(2048)
	file := dir.Track(tracks[0], types.QualityFlac)
	require.NoError(t, os.WriteFile(file.Path, existing, 0o600))

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, cat.mediaHits.Load())

	got, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, existing, got)
}

func TestDownloadBatchRedownloadsImplausiblySmallFile(t *testing.T) {
	t.Parallel()

	srv := newMediaServer(t)
	dl := downloader.New(testConf(), urlCatalog(srv), &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(1)

	file := dir.Track(tracks[0], types.QualityFlac)
	require.NoError(t, os.WriteFile(file.Path, []byte("x"), 0o600))

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Skipped)

	info, err := os.Stat(file.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
}

func TestDownloadBatchCanceledAccountsEveryTrack(t *testing.T) {
	t.Parallel()

	srv := newMediaServer(t)
	dl := downloader.New(testConf(), urlCatalog(srv), &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(6)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	summary := dl.DownloadBatch(ctx, zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, len(tracks), summary.Total())
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, len(tracks), summary.Failed)
}

func TestDownloadBatchCanceledDispatchesNothing(t *testing.T) {
	t.Parallel()

	srv := newMediaServer(t)
	cat := urlCatalog(srv)
	dl := downloader.New(testConf(), cat, &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(5)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	summary := dl.DownloadBatch(ctx, zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, len(tracks), summary.Failed)
	assert.Zero(t, cat.mediaHits.Load())

	for _, reason := range summary.FailureReasons() {
		assert.Contains(t, reason, "context canceled")
	}
}

func TestDownloadBatchSingleTrackHasNoTrailingPause(t *testing.T) {
	t.Parallel()

	srv := newMediaServer(t)
	dl := downloader.New(testConf(), urlCatalog(srv), &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(1)

	start := time.Now()
	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	elapsed := time.Since(start)

	assert.Equal(t, 1, summary.Succeeded)
	// The jittered inter-download pause is at least a second; a lone track
	// must not pay it.
	assert.Less(t, elapsed, time.Second)
}

func TestDownloadBatchHonorsConcurrencyBound(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int64
	payload := audioPayload(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := maxInFlight.Load()
			if n <= seen || maxInFlight.CompareAndSwap(seen, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	conf := testConf()
	conf.Concurrency = 2
	dl := downloader.New(conf, urlCatalog(srv), &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(6)

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 6, summary.Succeeded)
	assert.LessOrEqual(t, maxInFlight.Load(), int64(conf.Concurrency))
}

func TestDownloadBatchTagFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	srv := newMediaServer(t)
	tagger := &fakeTagger{err: errors.New("ffmpeg not found")} //nolint:exhaustruct
	dl := downloader.New(testConf(), urlCatalog(srv), tagger)
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(1)

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	exists, err := dir.Track(tracks[0], types.QualityFlac).Exists()
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDownloadBatchRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	payload := audioPayload(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	conf := testConf()
	conf.FetchRetries = 2
	dl := downloader.New(conf, urlCatalog(srv), &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(1)

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 1, summary.Succeeded)
	assert.GreaterOrEqual(t, hits.Load(), int64(2))
}

func TestDownloadBatchDoesNotRetryIntegrityFailure(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)

	conf := config.Downloader{ //nolint:exhaustruct
		Concurrency:     1,
		MinTrackSize:    1024,
		DownloadTimeout: 10,
		FetchRetries:    3,
	}
	dl := downloader.New(conf, urlCatalog(srv), &fakeTagger{}) //nolint:exhaustruct
	dir := fs.DownloadsDirFrom(t.TempDir())
	tracks := testTracks(1)

	summary := dl.DownloadBatch(t.Context(), zerolog.Nop(), dir, tracks, types.ProfileLossless)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int64(1), hits.Load())
}
