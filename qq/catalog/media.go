package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/xeptore/qqgrab/cache"
	"github.com/xeptore/qqgrab/httputil"
	"github.com/xeptore/qqgrab/qq/types"
)

// MediaURL resolves a streamable URL for one track at one quality tier. An
// empty string means the tier is not available for this track or account;
// that is a fallback signal for the caller, not an error.
func (c *Client) MediaURL(ctx context.Context, trackMID string, quality types.Quality) (string, error) {
	fileName := quality.Prefix() + trackMID + quality.Ext()

	respBytes, err := c.call(
		ctx,
		time.Duration(c.conf.Timeouts.GetMediaURL)*time.Second,
		"music.vkey.GetVkeyServer",
		"CgiGetVkey",
		map[string]any{
			"guid":     c.conf.DeviceGUID,
			"songmid":  []string{trackMID},
			"filename": []string{fileName},
			"songtype": []int{0},
			"platform": "20",
		},
	)
	if nil != err {
		return "", fmt.Errorf("send get media URL request: %w", err)
	}

	var respBody struct {
		Req struct {
			Data struct {
				MidURLInfo []struct {
					SongMID string `json:"songmid"`
					PURL    string `json:"purl"`
				} `json:"midurlinfo"`
				SIP []string `json:"sip"`
			} `json:"data"`
		} `json:"req"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return "", fmt.Errorf("decode get media URL response body: %v", err)
	}

	data := respBody.Req.Data
	for _, info := range data.MidURLInfo {
		if info.SongMID != trackMID || info.PURL == "" {
			continue
		}

		host := "https://isure.stream.qqmusic.qq.com/"
		if len(data.SIP) > 0 && data.SIP[0] != "" {
			host = data.SIP[0]
		}

		return host + info.PURL, nil
	}

	return "", nil
}

// Cover fetches the album cover JPEG. Covers repeat across a playlist's
// tracks, so downloaded bytes are cached.
func (c *Client) Cover(ctx context.Context, albumMID string) ([]byte, error) {
	item, err := c.cache.Covers.Fetch(albumMID, cache.DefaultCoverTTL, func() ([]byte, error) {
		return c.downloadCover(ctx, albumMID)
	})
	if nil != err {
		return nil, err
	}

	return item.Value(), nil
}

func (c *Client) downloadCover(ctx context.Context, albumMID string) (b []byte, err error) {
	reqURL := fmt.Sprintf(coverURLFormat, albumMID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		return nil, fmt.Errorf("create download cover request: %v", err)
	}

	client := http.Client{ //nolint:exhaustruct
		Timeout: time.Duration(c.conf.Timeouts.DownloadCover) * time.Second,
	}
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("send download cover request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close download cover response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, fmt.Errorf("read download cover response body: %v", err)
	}

	return respBytes, nil
}
