package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/xeptore/qqgrab/qq/types"
)

// Search returns up to limit tracks matching the keyword, in catalog
// ranking order. The search payload is deeply nested and varies between
// result types, hence gjson instead of a static struct.
func (c *Client) Search(ctx context.Context, keyword string, limit int) ([]types.Track, error) {
	respBytes, err := c.call(
		ctx,
		time.Duration(c.conf.Timeouts.Search)*time.Second,
		"music.search.SearchCgiService",
		"DoSearchForQQMusicDesktop",
		map[string]any{
			"query":        keyword,
			"search_type":  0,
			"num_per_page": limit,
			"page_num":     1,
		},
	)
	if nil != err {
		return nil, fmt.Errorf("send search request: %w", err)
	}

	if !gjson.ValidBytes(respBytes) {
		return nil, fmt.Errorf("invalid search response json: %s", string(respBytes))
	}

	items := gjson.GetBytes(respBytes, "req.data.body.song.list")
	if !items.IsArray() {
		return nil, fmt.Errorf("unexpected search response shape: %s", string(respBytes))
	}

	var tracks []types.Track
	items.ForEach(func(_, item gjson.Result) bool {
		t := types.Track{
			MID:      item.Get("mid").String(),
			Title:    item.Get("title").String(),
			Artist:   item.Get("singer.0.name").String(),
			AlbumMID: item.Get("album.mid").String(),
			Album:    item.Get("album.title").String(),
			VIP:      item.Get("pay.pay_play").Int() != 0,
		}
		if t.MID != "" {
			tracks = append(tracks, t)
		}

		return true
	})

	return tracks, nil
}
