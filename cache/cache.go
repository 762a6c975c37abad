package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/xeptore/qqgrab/qq/types"
)

var (
	DefaultPlaylistTTL = 10 * time.Minute
	DefaultCoverTTL    = 1 * time.Hour
)

type Cache struct {
	Playlists PlaylistsCache
	Covers    CoversCache
}

func New() *Cache {
	playlistsCache := ccache.New(
		ccache.Configure[*types.Playlist]().
			MaxSize(100).
			GetsPerPromote(3).
			PercentToPrune(10),
	)

	coversCache := ccache.New(
		ccache.Configure[[]byte]().
			MaxSize(200).
			GetsPerPromote(3).
			PercentToPrune(10),
	)

	return &Cache{
		Playlists: PlaylistsCache{
			c:   playlistsCache,
			mux: sync.Mutex{},
		},
		Covers: CoversCache{
			c:   coversCache,
			mux: sync.Mutex{},
		},
	}
}

type PlaylistsCache struct {
	c   *ccache.Cache[*types.Playlist]
	mux sync.Mutex
}

func (c *PlaylistsCache) Fetch(
	k string,
	ttl time.Duration,
	fetch func() (*types.Playlist, error),
) (*ccache.Item[*types.Playlist], error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	v, err := c.c.Fetch(k, ttl, fetch)
	if nil != err {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}

	return v, nil
}

type CoversCache struct {
	c   *ccache.Cache[[]byte]
	mux sync.Mutex
}

func (c *CoversCache) Fetch(
	k string,
	ttl time.Duration,
	fetch func() ([]byte, error),
) (*ccache.Item[[]byte], error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	v, err := c.c.Fetch(k, ttl, fetch)
	if nil != err {
		return nil, fmt.Errorf("fetch cover: %w", err)
	}

	return v, nil
}
