package downloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/xeptore/qqgrab/qq/auth"
	"github.com/xeptore/qqgrab/qq/types"
)

// Resolve walks the preference order and returns the first tier that yields
// a usable media URL, tagged with the chosen tier. An empty URL from the
// catalog means the tier is unavailable and the next one is tried; only
// credential problems abort the walk early.
func (d *Downloader) Resolve(
	ctx context.Context,
	logger zerolog.Logger,
	trackMID string,
	prefs []types.Quality,
) (types.ResolvedMedia, error) {
	for _, q := range prefs {
		mediaURL, err := d.catalog.MediaURL(ctx, trackMID, q)
		if nil != err {
			if errors.Is(err, auth.ErrUnauthorized) {
				return types.ResolvedMedia{}, auth.ErrUnauthorized
			}

			if errors.Is(err, context.Canceled) {
				return types.ResolvedMedia{}, context.Canceled
			}

			logger.
				Warn().
				Err(err).
				Str("track_mid", trackMID).
				Stringer("quality", q).
				Msg("Quality tier errored, trying next")

			continue
		}

		if mediaURL == "" {
			logger.
				Debug().
				Str("track_mid", trackMID).
				Stringer("quality", q).
				Msg("Quality tier unavailable, trying next")

			continue
		}

		return types.ResolvedMedia{URL: mediaURL, Quality: q}, nil
	}

	return types.ResolvedMedia{}, fmt.Errorf("resolve track media: %w", &NoUsableQualityError{
		TrackMID:  trackMID,
		Attempted: prefs,
	})
}
