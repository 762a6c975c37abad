package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const refreshURL = "https://u.y.qq.com/cgi-bin/musicu.fcg"

// Catalog envelope codes signaling that the credential is no longer usable.
const (
	codeOK             = 0
	codeCredentialDead = 1000
	codeRefreshKeyDead = 2000
)

// CredentialsOrRefresh returns credentials usable for the next catalog call,
// refreshing synchronously first if the current ones are within the expiry
// window. Concurrent callers trigger at most one refresh; the rest block on
// its outcome. Returns ErrUnauthorized when no usable credential can be
// produced.
func (a *Auth) CredentialsOrRefresh(ctx context.Context, logger zerolog.Logger) (*Credentials, error) {
	creds := a.credentials.Load()

	switch creds.State() {
	case StateAbsent:
		return nil, ErrUnauthorized
	case StateValid:
		return creds, nil
	case StateExpiring, StateExpired:
		select {
		case a.refreshSem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-a.refreshSem }()

		// Another worker may have refreshed while this one waited on the
		// semaphore.
		if fresh := a.credentials.Load(); fresh.State() == StateValid {
			return fresh, nil
		}

		if err := a.refreshHoldingSem(ctx, logger); nil != err {
			return nil, err
		}

		return a.credentials.Load(), nil
	default:
		panic("unexpected credential state: " + string(creds.State()))
	}
}

// RefreshToken exchanges the refresh key for fresh credentials and persists
// them, regardless of how close to expiry the current ones are. At most one
// refresh runs at a time; concurrent uncoordinated refreshes would
// invalidate each other's keys.
func (a *Auth) RefreshToken(ctx context.Context, logger zerolog.Logger) error {
	select {
	case a.refreshSem <- struct{}{}:
		defer func() { <-a.refreshSem }()
	default:
		return ErrTokenRefreshInProgress
	}

	return a.refreshHoldingSem(ctx, logger)
}

func (a *Auth) refreshHoldingSem(ctx context.Context, logger zerolog.Logger) error {
	newCreds, err := a.refreshToken(ctx, logger)
	if nil != err {
		return fmt.Errorf("refresh credentials: %w", err)
	}

	if err := a.persist(newCreds); nil != err {
		logger.Error().Err(err).Msg("Failed to persist refreshed credentials")
		return fmt.Errorf("persist refreshed credentials: %v", err)
	}

	return nil
}

func (a *Auth) refreshToken(ctx context.Context, logger zerolog.Logger) (creds *Credentials, err error) {
	existing := a.credentials.Load()
	if existing.Absent() || existing.RefreshKey == "" {
		return nil, ErrUnauthorized
	}

	reqBody, err := json.Marshal(map[string]any{
		"req": map[string]any{
			"module": "music.login.LoginServer",
			"method": "Login",
			"param": map[string]any{
				"musicid":     existing.MusicID,
				"musickey":    existing.MusicKey,
				"refresh_key": existing.RefreshKey,
			},
		},
	})
	if nil != err {
		return nil, fmt.Errorf("encode refresh request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(reqBody))
	if nil != err {
		return nil, fmt.Errorf("create refresh request: %v", err)
	}
	req.Header.Add("Content-Type", "application/json")

	client := http.Client{Timeout: 5 * time.Second} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to issue refresh request")
		return nil, fmt.Errorf("issue refresh request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close refresh response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("read refresh response body: %v", err)
	}

	var respBody struct {
		Req struct {
			Code int `json:"code"`
			Data struct {
				MusicID    int64  `json:"musicid"`
				MusicKey   string `json:"musickey"`
				RefreshKey string `json:"refresh_key"`
				ExpiresIn  int64  `json:"expires_in"`
			} `json:"data"`
		} `json:"req"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode refresh response body")
		return nil, fmt.Errorf("decode refresh response body: %v", err)
	}

	switch code := respBody.Req.Code; code {
	case codeOK:
	case codeCredentialDead, codeRefreshKeyDead:
		return nil, ErrUnauthorized
	default:
		logger.Error().Int("code", code).Bytes("response_body", respBytes).Msg("Unexpected refresh response code")

		return nil, fmt.Errorf("%w: unexpected refresh response code %d", ErrRefreshFailed, code)
	}

	data := respBody.Req.Data
	if data.MusicKey == "" {
		return nil, fmt.Errorf("%w: empty music key in refresh response", ErrRefreshFailed)
	}

	return &Credentials{
		MusicID:    data.MusicID,
		MusicKey:   data.MusicKey,
		RefreshKey: data.RefreshKey,
		ExpiresAt:  time.Now().Add(time.Duration(data.ExpiresIn) * time.Second),
	}, nil
}
