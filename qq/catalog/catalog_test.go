package catalog_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xeptore/qqgrab/cache"
	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/qq/auth"
	"github.com/xeptore/qqgrab/qq/catalog"
	"github.com/xeptore/qqgrab/qq/store"
	"github.com/xeptore/qqgrab/qq/types"
)

func testCatalogConf() config.Catalog {
	return config.Catalog{
		DeviceGUID:        "test-guid",
		RequestsPerSecond: 1000,
		Timeouts: config.CatalogTimeouts{
			Search:        5,
			GetPlaylist:   5,
			GetMediaURL:   5,
			DownloadCover: 5,
		},
	}
}

func openStoreWithCreds(t *testing.T, expiresAt time.Time) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	blob := fmt.Sprintf(
		`{"music_id":7,"music_key":"stale-key","refresh_key":"stale-refresh","expires_at":%d}`,
		expiresAt.Unix(),
	)
	require.NoError(t, s.Save([]byte(blob)))

	return s
}

// rpcServer answers both credential refresh and catalog sub-requests on one
// URL, telling them apart by the request module, and records the auth key
// each catalog sub-request carried.
type rpcServer struct {
	srv       *httptest.Server
	refreshes atomic.Int64
	mux       sync.Mutex
	authKeys  []string
	respond   func(module string) string
}

func newRPCServer(t *testing.T, respond func(module string) string) *rpcServer {
	t.Helper()

	s := &rpcServer{respond: respond} //nolint:exhaustruct
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		module := gjson.GetBytes(body, "req.module").String()
		if module == "music.login.LoginServer" {
			s.refreshes.Add(1)
			fmt.Fprint(w, `{"req":{"code":0,"data":{"musicid":7,"musickey":"fresh-key","refresh_key":"fresh-refresh","expires_in":86400}}}`)
			return
		}

		s.mux.Lock()
		s.authKeys = append(s.authKeys, gjson.GetBytes(body, "comm.authst").String())
		s.mux.Unlock()

		fmt.Fprint(w, s.respond(module))
	}))
	t.Cleanup(s.srv.Close)

	return s
}

func TestMediaURLRefreshesExpiringCredentials(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, func(string) string {
		return `{"req":{"data":{"midurlinfo":[{"songmid":"midx","purl":"M800midx.mp3?vkey=abc"}],"sip":["http://media.local/"]}}}`
	})

	s := openStoreWithCreds(t, time.Now().Add(5*time.Minute))
	a, err := auth.New(s, auth.WithEndpoint(srv.srv.URL))
	require.NoError(t, err)
	require.Equal(t, auth.StateExpiring, a.Credentials().State())

	cat := catalog.New(zerolog.Nop(), a, testCatalogConf(), cache.New(), catalog.WithEndpoint(srv.srv.URL))

	const callers = 4
	var (
		wg   sync.WaitGroup
		urls [callers]string
		errs [callers]error
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			urls[i], errs[i] = cat.MediaURL(t.Context(), "midx", types.QualityMP3High)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, srv.refreshes.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "http://media.local/M800midx.mp3?vkey=abc", urls[i])
	}

	require.Len(t, srv.authKeys, callers)
	for _, key := range srv.authKeys {
		assert.Equal(t, "fresh-key", key)
	}
}

func TestCallStaysAnonymousWithoutCredentials(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, func(string) string {
		return `{"req":{"data":{"midurlinfo":[{"songmid":"midx","purl":"M500midx.mp3?vkey=abc"}],"sip":[]}}}`
	})

	s, err := store.Open(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	a, err := auth.New(s, auth.WithEndpoint(srv.srv.URL))
	require.NoError(t, err)

	cat := catalog.New(zerolog.Nop(), a, testCatalogConf(), cache.New(), catalog.WithEndpoint(srv.srv.URL))

	u, err := cat.MediaURL(t.Context(), "midx", types.QualityMP3Low)
	require.NoError(t, err)
	assert.Equal(t, "https://isure.stream.qqmusic.qq.com/M500midx.mp3?vkey=abc", u)

	assert.Zero(t, srv.refreshes.Load())
	require.Len(t, srv.authKeys, 1)
	assert.Empty(t, srv.authKeys[0])
}

func TestUserPlaylists(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, func(module string) string {
		assert.Equal(t, "music.musicasset.PlaylistBaseRead", module)

		return `{"req":{"data":{"v_playlist":[` +
			`{"tid":0,"dirName":"My Likes","songNum":42},` +
			`{"tid":1001,"dirName":"Road Trip","songNum":17},` +
			`{"tid":1002,"dirName":"Late Night","songNum":9}` +
			`]}}}`
	})

	s := openStoreWithCreds(t, time.Now().Add(24*time.Hour))
	a, err := auth.New(s, auth.WithEndpoint(srv.srv.URL))
	require.NoError(t, err)

	cat := catalog.New(zerolog.Nop(), a, testCatalogConf(), cache.New(), catalog.WithEndpoint(srv.srv.URL))

	refs, err := cat.UserPlaylists(t.Context(), "12345")
	require.NoError(t, err)
	assert.Equal(t, []types.PlaylistRef{
		{ID: 1001, Title: "Road Trip", TrackCount: 17},
		{ID: 1002, Title: "Late Night", TrackCount: 9},
	}, refs)
}
