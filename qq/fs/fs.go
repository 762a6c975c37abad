package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeptore/qqgrab/qq/types"
)

type DownloadsDir string

func DownloadsDirFrom(d string) DownloadsDir {
	return DownloadsDir(d)
}

func (dir DownloadsDir) path() string {
	return string(dir)
}

// Track returns the file a standalone track download commits to, named from
// its artist and title directly under the downloads directory.
func (dir DownloadsDir) Track(t types.Track, q types.Quality) TrackFile {
	return TrackFile{Path: filepath.Join(dir.path(), trackFileName(t, q))}
}

// Playlist returns the per-playlist subdirectory, named from the sanitized
// playlist title, creating it if needed.
func (dir DownloadsDir) Playlist(title string) (PlaylistDir, error) {
	dirPath := filepath.Join(dir.path(), SanitizeName(title))
	if err := os.MkdirAll(dirPath, 0o700); nil != err {
		return "", fmt.Errorf("create playlist directory: %v", err)
	}

	return PlaylistDir(dirPath), nil
}

type PlaylistDir string

func (dir PlaylistDir) path() string {
	return string(dir)
}

func (dir PlaylistDir) Track(t types.Track, q types.Quality) TrackFile {
	return TrackFile{Path: filepath.Join(dir.path(), trackFileName(t, q))}
}

// trackFileName builds a deterministic name so interrupted runs can be
// resumed by re-invocation. The track MID disambiguates two different
// tracks whose sanitized artist/title collide.
func trackFileName(t types.Track, q types.Quality) string {
	return SanitizeName(t.Artist+" - "+t.Title) + " [" + t.MID + "]" + q.Ext()
}

var illegalNameChars = []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*"}

func SanitizeName(name string) string {
	for _, c := range illegalNameChars {
		name = strings.ReplaceAll(name, c, "_")
	}

	return strings.TrimSpace(name)
}

// TrackFile is a committed download destination. Writers must only touch
// TempPath and commit via CommitTemp so a crash never leaves a partial file
// at Path.
type TrackFile struct {
	Path string
}

func (f TrackFile) TempPath() string {
	return f.Path + ".part"
}

func (f TrackFile) Exists() (bool, error) {
	if _, err := os.Stat(f.Path); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat track file: %v", err)
	}

	return true, nil
}

// SizeAtLeast reports whether the committed file exists with at least min
// bytes. Used both for skip-if-exists and as the post-fetch integrity check.
func (f TrackFile) SizeAtLeast(min int64) (bool, error) {
	info, err := os.Stat(f.Path)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat track file: %v", err)
	}

	return info.Size() >= min, nil
}

func (f TrackFile) CommitTemp() error {
	if err := os.Rename(f.TempPath(), f.Path); nil != err {
		return fmt.Errorf("rename temp file to track file: %v", err)
	}

	return nil
}

func (f TrackFile) DiscardTemp() error {
	if err := os.Remove(f.TempPath()); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp track file: %v", err)
	}

	return nil
}

func (f TrackFile) Remove() error {
	if err := os.Remove(f.Path); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove track file: %v", err)
	}

	return nil
}
