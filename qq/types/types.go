package types

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Quality is a discrete audio encoding tier offered by the catalog. Lower
// values are preferred over higher ones within a preference profile.
type Quality int

const (
	QualityFlac Quality = iota
	QualityMP3High
	QualityMP3Low
)

// Media file identifier prefixes and extensions as used by the catalog's
// vkey endpoint. A media file name is built as prefix + track MID + ext.
func (q Quality) Prefix() string {
	switch q {
	case QualityFlac:
		return "F000"
	case QualityMP3High:
		return "M800"
	case QualityMP3Low:
		return "M500"
	default:
		panic("unexpected quality: " + q.String())
	}
}

func (q Quality) Ext() string {
	switch q {
	case QualityFlac:
		return ".flac"
	case QualityMP3High, QualityMP3Low:
		return ".mp3"
	default:
		panic("unexpected quality: " + q.String())
	}
}

func (q Quality) String() string {
	switch q {
	case QualityFlac:
		return "flac"
	case QualityMP3High:
		return "320kbps"
	case QualityMP3Low:
		return "128kbps"
	default:
		return "unknown"
	}
}

// Preference profiles matching the two download strategies the CLI offers.
var (
	ProfileLossless = []Quality{QualityFlac, QualityMP3High, QualityMP3Low}
	ProfileStandard = []Quality{QualityMP3High, QualityMP3Low}
)

func ProfileFor(preferLossless bool) []Quality {
	return lo.Ternary(preferLossless, ProfileLossless, ProfileStandard)
}

func JoinQualities(qs []Quality) string {
	return strings.Join(lo.Map(qs, func(q Quality, _ int) string { return q.String() }), " -> ")
}

// Track is an immutable catalog record. MID is the catalog's opaque media
// identifier used for media URL resolution, cover lookup, and file name
// disambiguation.
type Track struct {
	MID      string
	Title    string
	Artist   string
	AlbumMID string
	Album    string
	VIP      bool
}

func (t Track) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("mid", t.MID).
		Str("title", t.Title).
		Str("artist", t.Artist).
		Str("album", t.Album).
		Bool("vip", t.VIP)
}

// ResolvedMedia carries the chosen tier alongside the URL so downstream
// stages never have to infer it from the file extension.
type ResolvedMedia struct {
	URL     string
	Quality Quality
}

type Playlist struct {
	ID     string
	Title  string
	Tracks []Track
}

// PlaylistRef is a playlist as it appears in a user's created list, before
// any of its tracks have been fetched.
type PlaylistRef struct {
	ID         int64
	Title      string
	TrackCount int
}
