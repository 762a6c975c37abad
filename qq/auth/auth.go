package auth

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/xeptore/qqgrab/qq/store"
	"github.com/xeptore/qqgrab/redact"
)

var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrRefreshFailed          = errors.New("credential refresh failed")
	ErrTokenRefreshInProgress = errors.New("another credential refresh is in progress")
	ErrLoginLinkExpired       = errors.New("login QR code has expired")
	ErrLoginRefused           = errors.New("login was refused on the scanning device")
	ErrLoginInProgress        = errors.New("another login flow is in progress")
)

// refreshWindow is how close to expiry a credential is considered expiring
// and gets refreshed before use.
const refreshWindow = 10 * time.Minute

type Auth struct {
	store       *store.Store
	endpoint    string
	loginSem    chan struct{}
	refreshSem  chan struct{}
	credentials atomic.Pointer[Credentials]
}

type Option func(*Auth)

// WithEndpoint overrides the login service URL. Tests point it at a local
// server.
func WithEndpoint(u string) Option {
	return func(a *Auth) { a.endpoint = u }
}

// Credentials is the authentication artifact granting access to
// tier-restricted media. Workers share it read-only; only the refresh path
// replaces it.
type Credentials struct {
	MusicID    int64
	MusicKey   string
	RefreshKey string
	ExpiresAt  time.Time
}

func (c *Credentials) Absent() bool {
	return c.MusicKey == ""
}

func (c *Credentials) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int64("music_id", c.MusicID).
		Str("music_key", redact.String(c.MusicKey)).
		Str("refresh_key", redact.String(c.RefreshKey)).
		Time("expires_at", c.ExpiresAt)
}

type State string

const (
	StateAbsent   State = "absent"
	StateValid    State = "valid"
	StateExpiring State = "expiring"
	StateExpired  State = "expired"
)

func (c *Credentials) State() State {
	switch {
	case c.Absent():
		return StateAbsent
	case time.Now().After(c.ExpiresAt):
		return StateExpired
	case time.Now().Add(refreshWindow).After(c.ExpiresAt):
		return StateExpiring
	default:
		return StateValid
	}
}

// blob is the persisted form of Credentials. Callers of the store never see
// this; the on-disk encoding is not part of any contract.
type blob struct {
	MusicID    int64  `json:"music_id"`
	MusicKey   string `json:"music_key"`
	RefreshKey string `json:"refresh_key"`
	ExpiresAt  int64  `json:"expires_at"`
}

func New(s *store.Store, opts ...Option) (*Auth, error) {
	raw, err := s.Load()
	if nil != err {
		return nil, fmt.Errorf("load credentials blob: %v", err)
	}

	creds := &Credentials{
		MusicID:    0,
		MusicKey:   "",
		RefreshKey: "",
		ExpiresAt:  time.Time{},
	}
	if raw != nil {
		var b blob
		if err := json.Unmarshal(raw, &b); nil != err {
			return nil, fmt.Errorf("decode credentials blob: %v", err)
		}
		creds = &Credentials{
			MusicID:    b.MusicID,
			MusicKey:   b.MusicKey,
			RefreshKey: b.RefreshKey,
			ExpiresAt:  time.Unix(b.ExpiresAt, 0),
		}
	}

	a := &Auth{
		store:       s,
		endpoint:    refreshURL,
		loginSem:    make(chan struct{}, 1),
		refreshSem:  make(chan struct{}, 1),
		credentials: atomic.Pointer[Credentials]{},
	}
	a.credentials.Store(creds)

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *Auth) Credentials() *Credentials {
	return a.credentials.Load()
}

// Clear removes the stored credentials. The server-side session is left to
// expire on its own; there is no remote revocation call.
func (a *Auth) Clear() error {
	if err := a.store.Delete(); nil != err {
		return fmt.Errorf("delete credentials blob: %v", err)
	}

	a.credentials.Store(&Credentials{
		MusicID:    0,
		MusicKey:   "",
		RefreshKey: "",
		ExpiresAt:  time.Time{},
	})

	return nil
}

func (a *Auth) persist(creds *Credentials) error {
	raw, err := json.Marshal(blob{
		MusicID:    creds.MusicID,
		MusicKey:   creds.MusicKey,
		RefreshKey: creds.RefreshKey,
		ExpiresAt:  creds.ExpiresAt.Unix(),
	})
	if nil != err {
		return fmt.Errorf("encode credentials blob: %v", err)
	}

	if err := a.store.Save(raw); nil != err {
		return fmt.Errorf("save credentials blob: %v", err)
	}

	a.credentials.Store(creds)

	return nil
}
