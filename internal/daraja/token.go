package daraja

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	errors "github.com/frahmantamala/energy-settlement/internal"
)

// refreshMargin is how far ahead of expiry a cached token is considered
// stale. Gateway tokens are valid ~3599s; refreshing a minute early avoids
// racing the expiry on in-flight requests.
const refreshMargin = 60 * time.Second

type BearerToken struct {
	Value     string
	ExpiresAt time.Time
}

func (t BearerToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-refreshMargin))
}

// TokenProvider yields a bearer credential for the gateway, refreshing the
// cached one when it is within the refresh margin of expiry.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type tokenProvider struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	client         *http.Client
	now            func() time.Time

	mu     sync.Mutex
	cached BearerToken
}

func NewTokenProvider(baseURL, consumerKey, consumerSecret string, client *http.Client) TokenProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &tokenProvider{
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		client:         client,
		now:            time.Now,
	}
}

func (p *tokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached.Valid(p.now()) {
		return p.cached.Value, nil
	}

	token, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}

	p.cached = token
	return token.Value, nil
}

func (p *tokenProvider) fetch(ctx context.Context) (BearerToken, error) {
	url := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return BearerToken{}, errors.NewExternalError("failed to build token request", errors.ErrCodeAuthFailed).WithCause(err)
	}
	req.SetBasicAuth(p.consumerKey, p.consumerSecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return BearerToken{}, errors.NewExternalError("token request failed", errors.ErrCodeAuthFailed).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return BearerToken{}, errors.NewExternalError(
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), errors.ErrCodeAuthFailed)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return BearerToken{}, errors.NewExternalError("failed to decode token response", errors.ErrCodeAuthFailed).WithCause(err)
	}
	if body.AccessToken == "" {
		return BearerToken{}, errors.NewExternalError("token endpoint returned empty token", errors.ErrCodeAuthFailed)
	}

	// expires_in arrives as a string, typically "3599"
	ttl, err := strconv.Atoi(body.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}

	return BearerToken{
		Value:     body.AccessToken,
		ExpiresAt: p.now().Add(time.Duration(ttl) * time.Second),
	}, nil
}
