package tuya

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	errors "github.com/frahmantamala/energy-settlement/internal"
	"github.com/google/uuid"
)

const tokenRefreshMargin = 60 * time.Second

type accessToken struct {
	value     string
	expiresAt time.Time
}

func (t accessToken) valid(now time.Time) bool {
	return t.value != "" && now.Before(t.expiresAt.Add(-tokenRefreshMargin))
}

// tokenProvider caches the device-cloud access token per client instance.
// The token request is itself signed, with an empty access-token component.
type tokenProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	now          func() time.Time

	mu     sync.Mutex
	cached accessToken
}

func newTokenProvider(baseURL, clientID, clientSecret string, client *http.Client) *tokenProvider {
	return &tokenProvider{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
		now:          time.Now,
	}
}

func (p *tokenProvider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached.valid(p.now()) {
		return p.cached.value, nil
	}

	token, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}

	p.cached = token
	return token.value, nil
}

func (p *tokenProvider) fetch(ctx context.Context) (accessToken, error) {
	const path = "/v1.0/token?grant_type=1"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return accessToken{}, errors.NewExternalError("failed to build device token request", errors.ErrCodeAuthFailed).WithCause(err)
	}

	timestamp := strconv.FormatInt(p.now().UnixMilli(), 10)
	nonce := uuid.NewString()
	stringToSign := StringToSign(http.MethodGet, nil, path)

	req.Header.Set("client_id", p.clientID)
	req.Header.Set("sign", Sign(p.clientID, p.clientSecret, "", timestamp, nonce, stringToSign))
	req.Header.Set("t", timestamp)
	req.Header.Set("sign_method", "HMAC-SHA256")
	req.Header.Set("nonce", nonce)

	resp, err := p.client.Do(req)
	if err != nil {
		return accessToken{}, errors.NewExternalError("device token request failed", errors.ErrCodeAuthFailed).WithCause(err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool   `json:"success"`
		Msg     string `json:"msg"`
		Result  struct {
			AccessToken string `json:"access_token"`
			ExpireTime  int64  `json:"expire_time"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return accessToken{}, errors.NewExternalError("failed to decode device token response", errors.ErrCodeAuthFailed).WithCause(err)
	}
	if !body.Success || body.Result.AccessToken == "" {
		return accessToken{}, errors.NewExternalError(
			fmt.Sprintf("device token request rejected: %s", body.Msg), errors.ErrCodeAuthFailed)
	}

	ttl := body.Result.ExpireTime
	if ttl <= 0 {
		ttl = 7200
	}

	return accessToken{
		value:     body.Result.AccessToken,
		expiresAt: p.now().Add(time.Duration(ttl) * time.Second),
	}, nil
}
