package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/xeptore/qqgrab/qq/fs"
)

// Fetch streams mediaURL into dest's temp path, verifies the payload, and
// only then commits it to the final path. A failed or rejected transfer
// never leaves a file behind, at either path. No retries happen here;
// transient failures surface as *NetworkError for the scheduler to retry.
func (d *Downloader) Fetch(ctx context.Context, mediaURL string, dest fs.TrackFile) (written int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if nil != err {
		return 0, fmt.Errorf("create media download request: %v", err)
	}

	client := http.Client{ //nolint:exhaustruct
		Timeout: time.Duration(d.conf.DownloadTimeout) * time.Second,
	}
	resp, err := client.Do(req)
	if nil != err {
		if errors.Is(err, context.Canceled) {
			return 0, context.Canceled
		}

		return 0, &NetworkError{cause: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close media download response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, &NetworkError{cause: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	f, err := os.OpenFile(dest.TempPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if nil != err {
		return 0, fmt.Errorf("create temp track file: %v", err)
	}
	defer func() {
		if nil != err {
			if discardErr := dest.DiscardTemp(); nil != discardErr {
				err = errors.Join(err, discardErr)
			}
		}
	}()

	written, copyErr := io.Copy(f, resp.Body)
	if nil == copyErr {
		if syncErr := f.Sync(); nil != syncErr {
			copyErr = fmt.Errorf("sync temp track file: %v", syncErr)
		}
	}
	if closeErr := f.Close(); nil != closeErr {
		copyErr = errors.Join(copyErr, fmt.Errorf("close temp track file: %v", closeErr))
	}
	if nil != copyErr {
		if errors.Is(copyErr, context.Canceled) {
			return 0, context.Canceled
		}

		return 0, &NetworkError{cause: copyErr}
	}

	if err := d.verifyTemp(dest, written); nil != err {
		return 0, err
	}

	if err := dest.CommitTemp(); nil != err {
		return 0, err
	}

	return written, nil
}

// verifyTemp applies the corruption heuristics to the completed temp file:
// a minimum byte size, and a content sniff catching error pages served with
// a 200 status.
func (d *Downloader) verifyTemp(dest fs.TrackFile, written int64) error {
	if written < d.conf.MinTrackSize {
		return &IntegrityError{Size: written, MinSize: d.conf.MinTrackSize, Detected: ""}
	}

	mime, err := mimetype.DetectFile(dest.TempPath())
	if nil != err {
		return fmt.Errorf("detect temp track file type: %v", err)
	}

	if strings.HasPrefix(mime.String(), "text/") {
		return &IntegrityError{Size: written, MinSize: d.conf.MinTrackSize, Detected: mime.String()}
	}

	return nil
}
