package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultIntrospectionTTL = 30 * time.Second
const defaultIntrospectionTimeout = 5 * time.Second

// introspectionResponse mirrors RFC 7662's token introspection response.
type introspectionResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope"`
	Subject  string `json:"sub"`
	Expiry   int64  `json:"exp"`
}

// OAuthValidator validates bearer tokens by calling an OAuth 2.1
// introspection endpoint, coalescing concurrent lookups for the same token
// and caching results for a short TTL.
type OAuthValidator struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	cache        Cache
	group        singleflight.Group
}

// OAuthOption configures an OAuthValidator.
type OAuthOption func(*OAuthValidator)

// WithHTTPClient overrides the validator's HTTP client.
func WithHTTPClient(c *http.Client) OAuthOption {
	return func(v *OAuthValidator) { v.httpClient = c }
}

// WithCache overrides the introspection result cache (default: in-process).
func WithCache(c Cache) OAuthOption {
	return func(v *OAuthValidator) { v.cache = c }
}

// NewOAuthValidator builds an OAuthValidator against the given introspection
// endpoint, authenticating to it with HTTP Basic auth.
func NewOAuthValidator(endpoint, clientID, clientSecret string, opts ...OAuthOption) *OAuthValidator {
	v := &OAuthValidator{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: defaultIntrospectionTimeout},
		cache:        NewMemoryCache(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (v *OAuthValidator) Validate(ctx context.Context, token string, requiredScopes []string) (*Result, error) {
	hash := tokenHash(token)

	if cached, err := v.cache.Get(ctx, hash); err == nil {
		return v.toResult(cached, requiredScopes), nil
	}

	out, err, _ := v.group.Do(hash, func() (interface{}, error) {
		return v.introspect(ctx, token, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.toResult(out.(*Introspection), requiredScopes), nil
}

func (v *OAuthValidator) introspect(ctx context.Context, token, hash string) (*Introspection, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(v.clientID, v.clientSecret)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: introspection endpoint returned %s", resp.Status)
	}

	var body introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	result := &Introspection{
		TokenHash: hash,
		Subject:   body.Subject,
		Active:    body.Active,
	}
	if body.Scope != "" {
		result.Scopes = strings.Fields(body.Scope)
	}

	ttl := defaultIntrospectionTTL
	if body.Expiry > 0 {
		if untilExp := time.Until(time.Unix(body.Expiry, 0)); untilExp > 0 && untilExp < ttl {
			ttl = untilExp
		}
	}
	_ = v.cache.Put(context.Background(), result, ttl)
	return result, nil
}

func (v *OAuthValidator) toResult(intro *Introspection, requiredScopes []string) *Result {
	if !intro.Active {
		return &Result{OK: false, Err: ErrInvalidKey}
	}
	r := &Result{OK: true, Subject: intro.Subject, Scopes: intro.Scopes}
	r.checkScopes(requiredScopes)
	return r
}
