// Package auth manages the two bearer tokens an EASM session holds:
// one for the control plane (workspace lifecycle, ARM-style operations)
// and one for the data plane (assets, tasks, saved filters). Tokens are
// acquired through the OAuth2 client-credentials flow and replaced,
// never mutated, on refresh.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	sdkerrors "github.com/easmkit/sdk/pkg/errors"
	"github.com/easmkit/sdk/pkg/redact"
)

// ExpiryGuard is the proactive refresh window: a token is treated as
// invalid this long before its encoded expiry.
const ExpiryGuard = 60 * time.Second

// Plane identifies which API surface a token or request targets.
type Plane int

const (
	// PlaneData is the query/mutation surface: assets, tasks, saved
	// filters, data connections, discovery groups.
	PlaneData Plane = iota

	// PlaneControl is the management surface: workspace lifecycle and
	// resource tags.
	PlaneControl
)

func (p Plane) String() string {
	if p == PlaneControl {
		return "control"
	}
	return "data"
}

// Token is one bearer token bound to a plane. Zero value is invalid.
type Token struct {
	Value     string
	ExpiresAt time.Time
	Plane     Plane
}

// ExpiringSoon reports whether the token is inside the refresh guard
// window at the given instant. Tokens without a known expiry are
// treated as expiring so every use forces a fetch.
func (t Token) ExpiringSoon(now time.Time) bool {
	if t.Value == "" || t.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(t.ExpiresAt.Add(-ExpiryGuard))
}

// Credentials configures token acquisition for one plane.
type Credentials struct {
	// TokenURL is the identity provider's token endpoint.
	TokenURL string

	// ClientID / ClientSecret are the client-credentials pair.
	ClientID     string
	ClientSecret string

	// Scopes requested for the plane (e.g. the resource audience).
	Scopes []string

	// EndpointParams carries extra token-endpoint parameters, such as
	// a `resource` audience for ARM-style providers.
	EndpointParams url.Values
}

// fetcher produces a fresh bearer token for one plane.
type fetcher interface {
	fetch(ctx context.Context) (value string, expiresAt time.Time, err error)
}

// clientCredentialsFetcher exchanges client credentials for a bearer
// token via golang.org/x/oauth2.
type clientCredentialsFetcher struct {
	cfg clientcredentials.Config
}

func (f *clientCredentialsFetcher) fetch(ctx context.Context) (string, time.Time, error) {
	tok, err := f.cfg.Token(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := tok.Expiry
	if exp, ok := jwtExpiry(tok.AccessToken); ok {
		expires = exp
	}
	return tok.AccessToken, expires, nil
}

// staticFetcher serves a fixed token. Used by tests and by callers that
// bring their own token acquisition.
type staticFetcher struct {
	value     string
	expiresAt time.Time
}

func (f *staticFetcher) fetch(context.Context) (string, time.Time, error) {
	return f.value, f.expiresAt, nil
}

// Manager owns both plane tokens for one session. It is safe for
// concurrent use; a refresh replaces the cached token under lock.
type Manager struct {
	mu       sync.Mutex
	fetchers map[Plane]fetcher
	tokens   map[Plane]Token
	now      func() time.Time
}

// NewManager builds a Manager from per-plane credentials. Both planes
// must carry a token URL, client id, and client secret.
func NewManager(control, data Credentials) (*Manager, error) {
	for _, pc := range []struct {
		plane Plane
		creds Credentials
	}{{PlaneControl, control}, {PlaneData, data}} {
		if pc.creds.TokenURL == "" {
			return nil, sdkerrors.Configuration("auth.NewManager", pc.plane.String()+" plane token URL is required")
		}
		if pc.creds.ClientID == "" || pc.creds.ClientSecret == "" {
			return nil, sdkerrors.Configuration("auth.NewManager", pc.plane.String()+" plane client credentials are required")
		}
	}

	return &Manager{
		fetchers: map[Plane]fetcher{
			PlaneControl: &clientCredentialsFetcher{cfg: clientcredentials.Config{
				TokenURL:       control.TokenURL,
				ClientID:       control.ClientID,
				ClientSecret:   control.ClientSecret,
				Scopes:         control.Scopes,
				EndpointParams: control.EndpointParams,
			}},
			PlaneData: &clientCredentialsFetcher{cfg: clientcredentials.Config{
				TokenURL:       data.TokenURL,
				ClientID:       data.ClientID,
				ClientSecret:   data.ClientSecret,
				Scopes:         data.Scopes,
				EndpointParams: data.EndpointParams,
			}},
		},
		tokens: make(map[Plane]Token),
		now:    time.Now,
	}, nil
}

// NewStatic builds a Manager serving fixed tokens that never refresh to
// new values. Useful for tests and for short-lived scripted sessions.
func NewStatic(controlToken, dataToken string) *Manager {
	far := time.Now().Add(24 * time.Hour)
	return &Manager{
		fetchers: map[Plane]fetcher{
			PlaneControl: &staticFetcher{value: controlToken, expiresAt: far},
			PlaneData:    &staticFetcher{value: dataToken, expiresAt: far},
		},
		tokens: make(map[Plane]Token),
		now:    time.Now,
	}
}

// Token returns a valid bearer token for the plane, refreshing first if
// the cached one is inside the expiry guard window.
func (m *Manager) Token(ctx context.Context, plane Plane) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[plane]
	if ok && !tok.ExpiringSoon(m.now()) {
		return tok, nil
	}
	return m.refreshLocked(ctx, plane)
}

// Refresh discards the cached token for the plane and fetches a new
// one. Called by the executor on 401/403 responses.
func (m *Manager) Refresh(ctx context.Context, plane Plane) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx, plane)
}

// Probe acquires a token for each plane, verifying the configured
// credentials without issuing any API calls.
func (m *Manager) Probe(ctx context.Context) error {
	for _, plane := range []Plane{PlaneControl, PlaneData} {
		if _, err := m.Token(ctx, plane); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) refreshLocked(ctx context.Context, plane Plane) (Token, error) {
	f, ok := m.fetchers[plane]
	if !ok {
		return Token{}, sdkerrors.Configuration("auth.Token", "no credentials for "+plane.String()+" plane")
	}
	value, expires, err := f.fetch(ctx)
	if err != nil {
		// oauth2 errors embed the token-endpoint response body.
		return Token{}, sdkerrors.E(sdkerrors.KindConfiguration, "auth.Token", redact.Error(err))
	}
	tok := Token{Value: value, ExpiresAt: expires, Plane: plane}
	m.tokens[plane] = tok
	return tok, nil
}

// jwtExpiry pulls the exp claim out of a JWT without verifying the
// signature. The expiry is advisory; the server remains authoritative.
func jwtExpiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp float64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(claims.Exp), 0), true
}
