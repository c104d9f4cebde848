package zoom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"zcc-reporting/shared/metricsx"
)

const expirySafetyMargin = 60 * time.Second

// TokenCache owns the OAuth access token for the upstream API. The whole
// check-then-exchange sequence runs under mu, so callers racing on a miss share a
// single exchange.
type TokenCache struct {
	oauthURL string
	creds    CredentialSource
	http     *http.Client
	now      func() time.Time

	mu        sync.Mutex
	key       string
	token     string
	expiresAt time.Time
}

func NewTokenCache(oauthURL string, creds CredentialSource, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenCache{
		oauthURL: oauthURL,
		creds:    creds,
		http:     httpClient,
		now:      time.Now,
	}
}

func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	if c == nil || c.creds == nil {
		return "", ErrCredentialMissing
	}
	cred, err := c.creds.Credential(ctx)
	if err != nil {
		return "", err
	}
	key := cred.AccountID + "\x00" + cred.ClientID

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.key == key && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	token, ttl, err := c.exchange(ctx, cred)
	if err != nil {
		metricsx.IncTokenExchange("error")
		return "", err
	}
	metricsx.IncTokenExchange("ok")

	c.key = key
	c.token = token
	c.expiresAt = c.now().Add(ttl - expirySafetyMargin)
	return token, nil
}

// Invalidate drops the cached token; the next AccessToken call exchanges again.
func (c *TokenCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.key, c.token, c.expiresAt = "", "", time.Time{}
	c.mu.Unlock()
}

// exchange runs the account_credentials grant. The grant parameters go in both the query
// string and the form body; the client pair travels as a Basic header.
func (c *TokenCache) exchange(ctx context.Context, cred Credential) (string, time.Duration, error) {
	params := url.Values{
		"grant_type": {"account_credentials"},
		"account_id": {cred.AccountID},
	}
	tokenURL, err := url.Parse(c.oauthURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse oauth url: %w", err)
	}
	q := tokenURL.Query()
	for k, v := range params {
		q[k] = v
	}
	tokenURL.RawQuery = q.Encode()

	cfg := clientcredentials.Config{
		ClientID:       cred.ClientID,
		ClientSecret:   cred.ClientSecret,
		TokenURL:       tokenURL.String(),
		AuthStyle:      oauth2.AuthStyleInHeader,
		EndpointParams: params,
	}
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", 0, fmt.Errorf("%w: token exchange status %d: %s", ErrUpstreamUnavailable, re.Response.StatusCode, strings.TrimSpace(string(re.Body)))
		}
		return "", 0, fmt.Errorf("%w: token exchange: %v", ErrUpstreamUnavailable, err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return "", 0, fmt.Errorf("%w: token response missing access_token", ErrUpstreamUnavailable)
	}
	var ttl time.Duration
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
	}
	return tok.AccessToken, ttl, nil
}
