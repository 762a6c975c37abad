package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/xeptore/qqgrab/result"
)

const (
	qrIssueURL = "https://ssl.ptlogin2.qq.com/ptqrshow"
	qrPollURL  = "https://ssl.ptlogin2.qq.com/ptqrlogin"
)

// Poll loop status codes reported by the login server.
const (
	qrStatusDone    = 0
	qrStatusExpired = 65
	qrStatusWaiting = 66
	qrStatusScanned = 67
	qrStatusRefused = 68
)

type Provider string

const (
	ProviderQQ     Provider = "qq"
	ProviderWechat Provider = "wx"
)

// LoginQR carries everything the caller needs to render the code and tell
// the user how long it stays scannable.
type LoginQR struct {
	Content   string
	ExpiresIn time.Duration
}

// InitiateLoginFlow starts a QR login session and returns the QR content to
// render plus a channel resolving to the obtained credentials. At most one
// flow runs at a time.
func (a *Auth) InitiateLoginFlow(
	ctx context.Context,
	provider Provider,
) (*LoginQR, <-chan result.Of[Credentials], error) {
	select {
	case a.loginSem <- struct{}{}:
		defer func() { <-a.loginSem }()
		qr, wait, err := a.initiateLoginFlow(ctx, provider)
		if nil != err {
			return nil, nil, fmt.Errorf("initiate login flow: %v", err)
		}

		return qr, wait, nil
	default:
		return nil, nil, ErrLoginInProgress
	}
}

func (a *Auth) initiateLoginFlow(
	ctx context.Context,
	provider Provider,
) (*LoginQR, <-chan result.Of[Credentials], error) {
	sess, err := issueQRSession(ctx, provider)
	if nil != err {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, (time.Duration(sess.ExpiresIn)+1)*time.Second)
	ticker := time.NewTicker(time.Duration(sess.Interval) * time.Second)
	done := make(chan result.Of[Credentials])

	go func() {
		defer close(done)
		defer ticker.Stop()
		defer cancel()
	waitloop:
		for {
			select {
			case <-ctx.Done():
				err := ctx.Err()
				if errors.Is(err, context.DeadlineExceeded) {
					done <- result.Err[Credentials](ErrLoginLinkExpired)

					return
				}
				done <- result.Err[Credentials](fmt.Errorf("login wait context errored with unknown error: %v", err))

				return
			case <-ticker.C:
				creds, err := sess.poll(ctx)
				if nil != err {
					switch {
					case errors.Is(ctx.Err(), context.Canceled):
						done <- result.Err[Credentials](context.Canceled)

						return
					case errors.Is(err, errQRPending):
						continue waitloop
					case errors.Is(err, ErrLoginLinkExpired), errors.Is(err, ErrLoginRefused):
						done <- result.Err[Credentials](err)

						return
					default:
						done <- result.Err[Credentials](fmt.Errorf("poll login status: %v", err))

						return
					}
				}

				if err := a.persist(creds); nil != err {
					done <- result.Err[Credentials](err)

					return
				}
				done <- result.Ok(creds)

				return
			}
		}
	}()

	return &LoginQR{
		Content:   sess.QRContent,
		ExpiresIn: time.Duration(sess.ExpiresIn) * time.Second,
	}, done, nil
}

type qrSession struct {
	QRContent string
	QRSig     string
	ExpiresIn int
	Interval  int
	provider  Provider
}

var errQRPending = errors.New("login QR code not confirmed yet")

func issueQRSession(ctx context.Context, provider Provider) (s *qrSession, err error) {
	reqParams := make(url.Values, 2)
	reqParams.Add("appid", loginAppID(provider))
	reqParams.Add("t", "json")

	reqURL := qrIssueURL + "?" + reqParams.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		return nil, fmt.Errorf("create QR session request: %v", err)
	}

	client := http.Client{Timeout: 5 * time.Second} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("issue QR session request: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close QR session response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("read QR session response body: %v", err)
	}

	var respBody struct {
		QRURL     string `json:"qr_url"`
		QRSig     string `json:"qrsig"`
		ExpiresIn int    `json:"expires_in"`
		Interval  int    `json:"interval"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return nil, fmt.Errorf("decode QR session response body: %v", err)
	}

	if respBody.Interval <= 0 {
		respBody.Interval = 2
	}

	return &qrSession{
		QRContent: respBody.QRURL,
		QRSig:     respBody.QRSig,
		ExpiresIn: respBody.ExpiresIn,
		Interval:  respBody.Interval,
		provider:  provider,
	}, nil
}

func loginAppID(provider Provider) string {
	switch provider {
	case ProviderQQ:
		return "716027609"
	case ProviderWechat:
		return "549000912"
	default:
		panic("unexpected login provider: " + string(provider))
	}
}

func (s *qrSession) poll(ctx context.Context) (creds *Credentials, err error) {
	reqParams := make(url.Values, 3)
	reqParams.Add("appid", loginAppID(s.provider))
	reqParams.Add("qrsig", s.QRSig)
	reqParams.Add("t", "json")

	reqURL := qrPollURL + "?" + reqParams.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		return nil, fmt.Errorf("create QR poll request: %v", err)
	}

	client := http.Client{Timeout: 5 * time.Second} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("issue QR poll request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close QR poll response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("read QR poll response body: %v", err)
	}

	var respBody struct {
		Code       int    `json:"code"`
		MusicID    int64  `json:"musicid"`
		MusicKey   string `json:"musickey"`
		RefreshKey string `json:"refresh_key"`
		ExpiresIn  int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return nil, fmt.Errorf("decode QR poll response body: %v", err)
	}

	switch code := respBody.Code; code {
	case qrStatusDone:
	case qrStatusWaiting, qrStatusScanned:
		return nil, errQRPending
	case qrStatusExpired:
		return nil, ErrLoginLinkExpired
	case qrStatusRefused:
		return nil, ErrLoginRefused
	default:
		return nil, fmt.Errorf("unexpected QR poll status code: %d", code)
	}

	return &Credentials{
		MusicID:    respBody.MusicID,
		MusicKey:   respBody.MusicKey,
		RefreshKey: respBody.RefreshKey,
		ExpiresAt:  time.Now().Add(time.Duration(respBody.ExpiresIn) * time.Second),
	}, nil
}
