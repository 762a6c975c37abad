package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/xeptore/qqgrab/cache"
	"github.com/xeptore/qqgrab/mathutil"
	"github.com/xeptore/qqgrab/qq/types"
)

// Playlist returns the playlist title and its full ordered track list,
// fetched page by page. The assembled playlist is cached since the batch
// command may look it up twice (preview, then download).
func (c *Client) Playlist(ctx context.Context, id int64) (*types.Playlist, error) {
	key := fmt.Sprintf("playlist:%d", id)
	item, err := c.cache.Playlists.Fetch(key, cache.DefaultPlaylistTTL, func() (*types.Playlist, error) {
		return c.fetchPlaylist(ctx, id)
	})
	if nil != err {
		return nil, err
	}

	return item.Value(), nil
}

func (c *Client) fetchPlaylist(ctx context.Context, id int64) (*types.Playlist, error) {
	title, total, tracks, err := c.playlistPage(ctx, id, 0)
	if nil != err {
		return nil, fmt.Errorf("get playlist first page: %w", err)
	}

	numPages := mathutil.DivCeil(total, pageSize)
	for page := 1; page < numPages; page++ {
		_, _, pageTracks, err := c.playlistPage(ctx, id, page)
		if nil != err {
			return nil, fmt.Errorf("get playlist page %d: %w", page, err)
		}

		tracks = append(tracks, pageTracks...)
	}

	return &types.Playlist{
		ID:     fmt.Sprintf("%d", id),
		Title:  title,
		Tracks: tracks,
	}, nil
}

func (c *Client) playlistPage(ctx context.Context, id int64, page int) (string, int, []types.Track, error) {
	respBytes, err := c.call(
		ctx,
		time.Duration(c.conf.Timeouts.GetPlaylist)*time.Second,
		"music.srfDissInfo.aiDissInfo",
		"uniform_get_Dissinfo",
		map[string]any{
			"disstid":    id,
			"song_begin": page * pageSize,
			"song_num":   pageSize,
		},
	)
	if nil != err {
		return "", 0, nil, fmt.Errorf("send playlist request: %w", err)
	}

	var respBody struct {
		Req struct {
			Data struct {
				DirInfo struct {
					Title   string `json:"title"`
					SongNum int    `json:"songnum"`
				} `json:"dirinfo"`
				SongList []struct {
					MID    string `json:"mid"`
					Title  string `json:"title"`
					Singer []struct {
						Name string `json:"name"`
					} `json:"singer"`
					Album struct {
						MID   string `json:"mid"`
						Title string `json:"title"`
					} `json:"album"`
					Pay struct {
						PayPlay int `json:"pay_play"`
					} `json:"pay"`
				} `json:"songlist"`
			} `json:"data"`
		} `json:"req"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return "", 0, nil, fmt.Errorf("decode playlist response body: %v", err)
	}

	data := respBody.Req.Data
	tracks := make([]types.Track, 0, len(data.SongList))
	for _, s := range data.SongList {
		var artist string
		if len(s.Singer) > 0 {
			artist = s.Singer[0].Name
		}
		tracks = append(tracks, types.Track{
			MID:      s.MID,
			Title:    s.Title,
			Artist:   artist,
			AlbumMID: s.Album.MID,
			Album:    s.Album.Title,
			VIP:      s.Pay.PayPlay != 0,
		})
	}

	return data.DirInfo.Title, data.DirInfo.SongNum, tracks, nil
}

// UserPlaylists lists the playlists a user created, in the order the
// service returns them. The caller picks one and fetches it by ID with
// Playlist. The liked-songs directory has no public playlist id and is
// left out.
func (c *Client) UserPlaylists(ctx context.Context, uin string) ([]types.PlaylistRef, error) {
	respBytes, err := c.call(
		ctx,
		time.Duration(c.conf.Timeouts.GetPlaylist)*time.Second,
		"music.musicasset.PlaylistBaseRead",
		"GetPlaylistByUin",
		map[string]any{
			"uin": uin,
		},
	)
	if nil != err {
		return nil, fmt.Errorf("send user playlists request: %w", err)
	}

	var respBody struct {
		Req struct {
			Data struct {
				VPlaylist []struct {
					TID     int64  `json:"tid"`
					DirName string `json:"dirName"`
					SongNum int    `json:"songNum"`
				} `json:"v_playlist"`
			} `json:"data"`
		} `json:"req"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return nil, fmt.Errorf("decode user playlists response body: %v", err)
	}

	refs := make([]types.PlaylistRef, 0, len(respBody.Req.Data.VPlaylist))
	for _, p := range respBody.Req.Data.VPlaylist {
		if p.TID == 0 {
			continue
		}

		refs = append(refs, types.PlaylistRef{
			ID:         p.TID,
			Title:      p.DirName,
			TrackCount: p.SongNum,
		})
	}

	return refs, nil
}
