package downloader

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/qqgrab/must"
	"github.com/xeptore/qqgrab/qq/fs"
	"github.com/xeptore/qqgrab/qq/types"
	"github.com/xeptore/qqgrab/ratelimit"
)

// DownloadBatch runs tracks through a fixed pool of workers and reports a
// per-track outcome for every input. Per-track failures never stop the
// batch; cancellation fails the tracks not yet handed to a worker and lets
// in-flight ones run to their own conclusion.
func (d *Downloader) DownloadBatch(
	ctx context.Context,
	logger zerolog.Logger,
	dir TrackDir,
	tracks []types.Track,
	prefs []types.Quality,
) *types.BatchSummary {
	summary := &types.BatchSummary{} //nolint:exhaustruct
	if len(tracks) == 0 {
		return summary
	}

	queue := make(chan types.Track)
	results := make(chan types.TrackResult)

	go func() {
		defer close(results)

		var workers errgroup.Group
		for range d.conf.Concurrency {
			workers.Go(func() error {
				// Pause only between consecutive downloads of one worker.
				// The first track and everything after a skip or failure
				// go out immediately.
				var downloaded bool
				for t := range queue {
					if downloaded {
						pause(ctx, ratelimit.TrackDownloadSleep())
					}

					r := d.processTrack(ctx, logger, dir, t, prefs)
					downloaded = r.Outcome == types.OutcomeSucceeded
					results <- r
				}

				return nil
			})
		}

	dispatch:
		for i, t := range tracks {
			if err := ctx.Err(); nil != err {
				for _, rest := range tracks[i:] {
					results <- types.TrackResult{ //nolint:exhaustruct
						Track:   rest,
						Outcome: types.OutcomeFailed,
						Reason:  err.Error(),
					}
				}

				break dispatch
			}

			select {
			case <-ctx.Done():
				for _, rest := range tracks[i:] {
					results <- types.TrackResult{ //nolint:exhaustruct
						Track:   rest,
						Outcome: types.OutcomeFailed,
						Reason:  ctx.Err().Error(),
					}
				}

				break dispatch
			case queue <- t:
			}
		}
		close(queue)

		_ = workers.Wait()
	}()

	for r := range results {
		switch r.Outcome {
		case types.OutcomeSucceeded:
			logger.
				Info().
				Str("track_mid", r.Track.MID).
				Str("title", r.Track.Title).
				Stringer("quality", r.Quality).
				Msg("Track downloaded")
		case types.OutcomeSkipped:
			logger.
				Info().
				Str("track_mid", r.Track.MID).
				Str("title", r.Track.Title).
				Msg("Track already downloaded, skipping")
		case types.OutcomeFailed:
			logger.
				Error().
				Str("track_mid", r.Track.MID).
				Str("title", r.Track.Title).
				Str("reason", r.Reason).
				Msg("Track failed")
		}
		summary.Record(r)
	}

	must.Be(summary.Total() == len(tracks), "batch summary must account for every track")

	return summary
}

func (d *Downloader) processTrack(
	ctx context.Context,
	logger zerolog.Logger,
	dir TrackDir,
	t types.Track,
	prefs []types.Quality,
) types.TrackResult {
	logger = logger.With().Str("track_mid", t.MID).Logger()

	for _, q := range prefs {
		file := dir.Track(t, q)
		exists, err := file.Exists()
		if nil != err {
			logger.Warn().Err(err).Stringer("quality", q).Msg("Failed to check track file existence")

			continue
		}
		if !exists {
			continue
		}

		plausible, err := file.SizeAtLeast(d.conf.MinTrackSize)
		if nil != err {
			logger.Warn().Err(err).Stringer("quality", q).Msg("Failed to check track file size")

			continue
		}
		if plausible {
			return types.TrackResult{ //nolint:exhaustruct
				Track:   t,
				Outcome: types.OutcomeSkipped,
				Quality: q,
			}
		}
	}

	media, err := d.Resolve(ctx, logger, t.MID, prefs)
	if nil != err {
		return types.TrackResult{ //nolint:exhaustruct
			Track:   t,
			Outcome: types.OutcomeFailed,
			Reason:  err.Error(),
		}
	}

	file := dir.Track(t, media.Quality)
	if err := d.fetchWithRetry(ctx, logger, media.URL, file); nil != err {
		return types.TrackResult{ //nolint:exhaustruct
			Track:   t,
			Outcome: types.OutcomeFailed,
			Reason:  err.Error(),
		}
	}

	// Tagging is downstream of a complete download. A failure here only
	// costs the metadata, never the track.
	tags := Tags{Title: t.Title, Artist: t.Artist, Album: t.Album, Cover: nil}
	if t.AlbumMID != "" {
		cover, err := d.catalog.Cover(ctx, t.AlbumMID)
		if nil != err {
			logger.Warn().Err(err).Str("album_mid", t.AlbumMID).Msg("Failed to download album cover")
		} else {
			tags.Cover = cover
		}
	}
	if err := d.tagger.Apply(ctx, file.Path, tags); nil != err {
		logger.Warn().Err(&TagError{cause: err}).Msg("Failed to tag track file, keeping it untagged")
	}

	return types.TrackResult{ //nolint:exhaustruct
		Track:   t,
		Outcome: types.OutcomeSucceeded,
		Quality: media.Quality,
	}
}

// pause waits out the jittered inter-download delay, giving up early on
// cancellation.
func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// fetchWithRetry retries the fetch on transient transport failures only.
// Integrity rejections and credential problems are terminal for the track.
func (d *Downloader) fetchWithRetry(
	ctx context.Context,
	logger zerolog.Logger,
	mediaURL string,
	file fs.TrackFile,
) error {
	attempt := 0
	op := func() error {
		attempt++
		if _, err := d.Fetch(ctx, mediaURL, file); nil != err {
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				logger.Warn().Err(err).Int("attempt", attempt).Msg("Track download failed, retrying")

				return err
			}

			return backoff.Permanent(err)
		}

		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.conf.FetchRetries),
		ctx,
	)

	return backoff.Retry(op, bo)
}
