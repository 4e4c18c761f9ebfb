package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// StateTTL bounds how long a consent URL stays usable.
const StateTTL = 10 * time.Minute

// ErrInvalidState means the callback carried an unknown or expired state.
var ErrInvalidState = errors.New("security: invalid or expired state parameter")

// GoogleServiceClient hands out HTTP clients authenticated with the
// calendar credential.
type GoogleServiceClient struct {
	tokenStore *TokenStore
	timeout    time.Duration
}

// NewGoogleServiceClient creates a new Google service client. Requests
// made through its HTTP client are bounded by timeout when positive.
func NewGoogleServiceClient(tokenStore *TokenStore, timeout time.Duration) *GoogleServiceClient {
	return &GoogleServiceClient{
		tokenStore: tokenStore,
		timeout:    timeout,
	}
}

// TokenSource adapts the store to oauth2.TokenSource. ctx bounds token
// endpoint calls.
func (g *GoogleServiceClient) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeSource{ctx: ctx, store: g.tokenStore}
}

// HTTPClient returns a client that attaches a fresh bearer token to every request.
func (g *GoogleServiceClient) HTTPClient(ctx context.Context) *http.Client {
	client := oauth2.NewClient(ctx, g.TokenSource(ctx))
	if g.timeout > 0 {
		client.Timeout = g.timeout
	}
	return client
}

// Status reports "valid", "expired" or "error: ..." for the cached credential
// without forcing a refresh.
func (g *GoogleServiceClient) Status(ctx context.Context) string {
	token, err := g.tokenStore.GetToken(ctx)
	if err != nil {
		if g.tokenStore.currentRefreshToken(ctx) == "" {
			return "error: " + ErrNoRefreshToken.Error()
		}
		return "expired"
	}
	if token.Expiry.Before(g.tokenStore.now().Add(RefreshMargin)) {
		return "expired"
	}
	return "valid"
}

func stateKey(state string) string {
	return "oauth_state:" + state
}

// AuthURL returns a consent URL asking for offline access and the random
// state it carries. The state is remembered for StateTTL.
func (g *GoogleServiceClient) AuthURL(ctx context.Context) (string, string, error) {
	if g.tokenStore.redisClient == nil {
		return "", "", fmt.Errorf("security: consent flow requires redis")
	}
	state := uuid.NewString()
	if err := g.tokenStore.redisClient.Set(ctx, stateKey(state), ServiceCalendar, StateTTL).Err(); err != nil {
		return "", "", fmt.Errorf("failed to store OAuth state: %w", err)
	}
	url := g.tokenStore.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return url, state, nil
}

// Exchange consumes state, trades code for tokens and persists the refresh
// token so later refreshes use it.
func (g *GoogleServiceClient) Exchange(ctx context.Context, state, code string) error {
	if g.tokenStore.redisClient == nil {
		return fmt.Errorf("security: consent flow requires redis")
	}
	if err := g.tokenStore.redisClient.GetDel(ctx, stateKey(state)).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidState
		}
		return fmt.Errorf("failed to read OAuth state: %w", err)
	}

	exchangeCtx, cancel := g.tokenStore.endpointContext(ctx)
	token, err := g.tokenStore.config.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}
	if token.RefreshToken == "" {
		return fmt.Errorf("security: consent response carried no refresh token")
	}
	if err := g.tokenStore.StoreRefreshToken(ctx, token.RefreshToken); err != nil {
		return err
	}
	if err := g.tokenStore.StoreToken(ctx, token); err != nil {
		g.tokenStore.l.Warnf("security: failed to cache exchanged token: %v", err)
	}
	return nil
}

// Revoke forgets every stored credential.
func (g *GoogleServiceClient) Revoke(ctx context.Context) error {
	return g.tokenStore.Revoke(ctx)
}

type storeSource struct {
	ctx   context.Context
	store *TokenStore
}

func (s *storeSource) Token() (*oauth2.Token, error) {
	return s.store.GetValidToken(s.ctx)
}
