package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Tags holds the attributes embedded into a downloaded track file.
type Tags struct {
	Title  string
	Artist string
	Album  string
	Cover  []byte
}

// Tagger embeds track attributes into the audio file at path. The file is
// replaced in place on success and left untouched on failure.
type Tagger interface {
	Apply(ctx context.Context, path string, tags Tags) error
}

// FFmpegTagger shells out to ffmpeg to remux the file with metadata and an
// attached cover image, without re-encoding the audio stream.
type FFmpegTagger struct{}

func NewFFmpegTagger() *FFmpegTagger {
	return &FFmpegTagger{}
}

func (t *FFmpegTagger) Apply(ctx context.Context, path string, tags Tags) (err error) {
	dir := filepath.Dir(path)
	taggedPath := path + ".tagged" + filepath.Ext(path)

	args := []string{"-y", "-i", path}

	if len(tags.Cover) > 0 {
		coverFile, err := os.CreateTemp(dir, "cover-*.jpg")
		if nil != err {
			return fmt.Errorf("create cover temp file: %v", err)
		}
		defer func() {
			if removeErr := os.Remove(coverFile.Name()); nil != removeErr {
				err = errors.Join(err, fmt.Errorf("remove cover temp file: %v", removeErr))
			}
		}()
		if _, err := coverFile.Write(tags.Cover); nil != err {
			err = errors.Join(err, coverFile.Close())

			return fmt.Errorf("write cover temp file: %v", err)
		}
		if err := coverFile.Close(); nil != err {
			return fmt.Errorf("close cover temp file: %v", err)
		}

		args = append(
			args,
			"-i",
			coverFile.Name(),
			"-map",
			"0:a",
			"-map",
			"1",
			"-c",
			"copy",
			"-disposition:v",
			"attached_pic",
		)
	} else {
		args = append(args, "-map", "0:a", "-c", "copy")
	}

	metaTags := []string{
		"title=" + tags.Title,
		"artist=" + tags.Artist,
		"album=" + tags.Album,
	}
	for _, tag := range metaTags {
		args = append(args, "-metadata", tag)
	}
	args = append(args, taggedPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if err := cmd.Run(); nil != err {
		if removeErr := os.Remove(taggedPath); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
			return errors.Join(
				fmt.Errorf("write track attributes: %v", err),
				fmt.Errorf("remove partially tagged file: %v", removeErr),
			)
		}

		return fmt.Errorf("write track attributes: %v", err)
	}

	if err := os.Rename(taggedPath, path); nil != err {
		return fmt.Errorf("rename tagged track file: %v", err)
	}

	return nil
}
