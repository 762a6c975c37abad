package downloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/qq/fs"
	"github.com/xeptore/qqgrab/qq/types"
)

// Catalog is the slice of the catalog client the download pipeline needs.
type Catalog interface {
	MediaURL(ctx context.Context, trackMID string, quality types.Quality) (string, error)
	Cover(ctx context.Context, albumMID string) ([]byte, error)
}

// TrackDir locates the destination file for a track at a given quality.
// Both the downloads root and per-playlist directories satisfy it.
type TrackDir interface {
	Track(t types.Track, q types.Quality) fs.TrackFile
}

type Downloader struct {
	conf    config.Downloader
	catalog Catalog
	tagger  Tagger
}

func New(conf config.Downloader, catalog Catalog, tagger Tagger) *Downloader {
	return &Downloader{
		conf:    conf,
		catalog: catalog,
		tagger:  tagger,
	}
}

// NoUsableQualityError reports that every configured quality tier was
// attempted for a track and none yielded a usable media URL.
type NoUsableQualityError struct {
	TrackMID  string
	Attempted []types.Quality
}

func (e *NoUsableQualityError) Error() string {
	attempted := make([]string, len(e.Attempted))
	for i, q := range e.Attempted {
		attempted[i] = q.String()
	}

	return fmt.Sprintf("no usable quality for track %s (attempted: %s)", e.TrackMID, strings.Join(attempted, ", "))
}

// NetworkError marks a transient transport failure. The batch scheduler
// retries these; the fetch layer never does.
type NetworkError struct {
	cause error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.cause.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.cause
}

// IntegrityError marks a completed transfer whose payload fails the
// corruption heuristics: too small, or not audio at all.
type IntegrityError struct {
	Size     int64
	MinSize  int64
	Detected string
}

func (e *IntegrityError) Error() string {
	if e.Detected != "" {
		return fmt.Sprintf("downloaded payload is %s, not audio", e.Detected)
	}

	return fmt.Sprintf("downloaded file size %d is below minimum %d", e.Size, e.MinSize)
}

// TagError is downstream of a successful download and never fails a task.
type TagError struct {
	cause error
}

func (e *TagError) Error() string {
	return "tagging failed: " + e.cause.Error()
}

func (e *TagError) Unwrap() error {
	return e.cause
}
