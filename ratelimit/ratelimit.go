package ratelimit

import (
	"math/rand/v2"
	"time"
)

// TrackDownloadSleep returns a jittered pause to insert between consecutive
// track downloads of one worker, so a batch doesn't look like a scripted
// burst to the media servers.
func TrackDownloadSleep() time.Duration {
	const (
		from = 1
		to   = 3
	)
	millis := (rand.IntN(to-from)+from)*1000 + rand.N(1000) //nolint:gosec

	return time.Duration(millis) * time.Millisecond
}
