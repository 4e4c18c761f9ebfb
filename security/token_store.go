package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// ServiceCalendar names the cached calendar credential.
const ServiceCalendar = "calendar"

// RefreshMargin is how long before expiry a cached access token is replaced.
const RefreshMargin = 5 * time.Minute

// CalendarScopes are requested when the refresh token is minted.
var CalendarScopes = []string{
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
}

// DefaultTokenTimeout bounds one call to the token endpoint.
const DefaultTokenTimeout = 20 * time.Second

// ErrNoRefreshToken means the store cannot mint access tokens.
var ErrNoRefreshToken = errors.New("security: no refresh token configured")

// Credentials configure the OAuth client. AuthURL and TokenURL override the
// Google endpoint and are only set in tests.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	RedirectURL  string
	AuthURL      string
	TokenURL     string

	// Timeout bounds every token endpoint call. Zero uses DefaultTokenTimeout.
	Timeout time.Duration
}

// TokenInfo is the cached form of an access token.
type TokenInfo struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Expiry      time.Time `json:"expiry"`
	Service     string    `json:"service"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TokenStore exchanges a refresh token for access tokens and caches them in
// Redis. A refresh token obtained through the consent flow is persisted and
// takes precedence over the configured one.
type TokenStore struct {
	redisClient  *redis.Client
	config       *oauth2.Config
	refreshToken string
	httpClient   *http.Client
	timeout      time.Duration
	l            *zap.SugaredLogger

	mu  sync.Mutex
	now func() time.Time
}

// NewTokenStore builds a TokenStore. redisClient may be nil, in which case
// every call exchanges the refresh token.
func NewTokenStore(redisClient *redis.Client, creds Credentials, l *zap.SugaredLogger) *TokenStore {
	endpoint := google.Endpoint
	if creds.TokenURL != "" {
		endpoint = oauth2.Endpoint{AuthURL: creds.AuthURL, TokenURL: creds.TokenURL}
	}
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	timeout := creds.Timeout
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	return &TokenStore{
		redisClient: redisClient,
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       CalendarScopes,
			Endpoint:     endpoint,
		},
		refreshToken: strings.TrimSpace(creds.RefreshToken),
		httpClient:   &http.Client{Timeout: timeout},
		timeout:      timeout,
		l:            l,
		now:          time.Now,
	}
}

// endpointContext bounds a token endpoint call and makes x/oauth2 use the
// store's client instead of http.DefaultClient.
func (ts *TokenStore) endpointContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, ts.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, ts.httpClient), cancel
}

func tokenKey() string {
	return "oauth_token:" + ServiceCalendar
}

func refreshKey() string {
	return "oauth_refresh:" + ServiceCalendar
}

// currentRefreshToken prefers the persisted refresh token over the configured one.
func (ts *TokenStore) currentRefreshToken(ctx context.Context) string {
	if ts.redisClient != nil {
		stored, err := ts.redisClient.Get(ctx, refreshKey()).Result()
		switch {
		case err == nil && strings.TrimSpace(stored) != "":
			return strings.TrimSpace(stored)
		case err != nil && !errors.Is(err, redis.Nil):
			ts.l.Warnf("security: failed to read stored refresh token: %v", err)
		}
	}
	return ts.refreshToken
}

// StoreRefreshToken persists a refresh token with no expiry.
func (ts *TokenStore) StoreRefreshToken(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrNoRefreshToken
	}
	if ts.redisClient == nil {
		return fmt.Errorf("security: cannot persist refresh token without redis")
	}
	if err := ts.redisClient.Set(ctx, refreshKey(), refreshToken, 0).Err(); err != nil {
		return fmt.Errorf("failed to store refresh token in Redis: %w", err)
	}
	return nil
}

// StoreToken caches token until its expiry.
func (ts *TokenStore) StoreToken(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	if ts.redisClient == nil {
		return nil
	}
	info := TokenInfo{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
		Service:     ServiceCalendar,
		UpdatedAt:   ts.now(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal token info: %w", err)
	}

	ttl := time.Duration(0)
	if !token.Expiry.IsZero() {
		ttl = token.Expiry.Sub(ts.now())
		if ttl <= 0 {
			return nil
		}
	}
	if err := ts.redisClient.Set(ctx, tokenKey(), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	return nil
}

// GetToken returns the cached access token, if any.
func (ts *TokenStore) GetToken(ctx context.Context) (*oauth2.Token, error) {
	if ts.redisClient == nil {
		return nil, redis.Nil
	}
	data, err := ts.redisClient.Get(ctx, tokenKey()).Bytes()
	if err != nil {
		return nil, err
	}
	var info TokenInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token info: %w", err)
	}
	return &oauth2.Token{
		AccessToken: info.AccessToken,
		TokenType:   info.TokenType,
		Expiry:      info.Expiry,
	}, nil
}

// RefreshToken exchanges the refresh token for a new access token and caches it.
func (ts *TokenStore) RefreshToken(ctx context.Context) (*oauth2.Token, error) {
	refreshToken := ts.currentRefreshToken(ctx)
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	// An expired seed forces the TokenSource to hit the token endpoint.
	seed := &oauth2.Token{RefreshToken: refreshToken, Expiry: ts.now().Add(-time.Minute)}
	tokenCtx, cancel := ts.endpointContext(ctx)
	token, err := ts.config.TokenSource(tokenCtx, seed).Token()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if err := ts.StoreToken(ctx, token); err != nil {
		ts.l.Warnf("security: failed to cache refreshed token: %v", err)
	}
	ts.l.Infof("security: refreshed calendar access token, expires %s", token.Expiry.UTC().Format(time.RFC3339))
	return token, nil
}

// GetValidToken returns the cached token unless it expires within
// RefreshMargin, in which case it refreshes.
func (ts *TokenStore) GetValidToken(ctx context.Context) (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	token, err := ts.GetToken(ctx)
	switch {
	case err == nil && token.Expiry.After(ts.now().Add(RefreshMargin)):
		return token, nil
	case err != nil && !errors.Is(err, redis.Nil):
		ts.l.Warnf("security: token cache unavailable: %v", err)
	}
	return ts.RefreshToken(ctx)
}

// DeleteToken drops the cached access token.
func (ts *TokenStore) DeleteToken(ctx context.Context) error {
	if ts.redisClient == nil {
		return nil
	}
	if err := ts.redisClient.Del(ctx, tokenKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Revoke drops the cached access token and the persisted refresh token. The
// configured refresh token, if any, is used again afterwards.
func (ts *TokenStore) Revoke(ctx context.Context) error {
	if ts.redisClient == nil {
		return nil
	}
	if err := ts.redisClient.Del(ctx, tokenKey(), refreshKey()).Err(); err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return nil
}
