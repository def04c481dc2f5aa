package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sfdc-subscriber/internal/config"
	"sfdc-subscriber/internal/logging"
)

const grantClientCredentials = "client_credentials"

// Provider exchanges client credentials for an access token with a single
// form POST. It never retries; retry policy belongs to the caller.
type Provider struct {
	HTTP        *http.Client
	TokenURL    string
	Credentials Credentials
	Logger      *logging.Logger

	now func() time.Time
}

func NewProvider(httpClient *http.Client, creds Credentials, logger *logging.Logger) (*Provider, error) {
	if logger == nil {
		panic("oauth.NewProvider: logger must not be nil")
	}
	endpoints, err := config.BuildEndpoints(creds.LoginURL)
	if err != nil {
		return nil, fmt.Errorf("invalid login URL: %w", err)
	}
	creds.LoginURL = endpoints.LoginURL
	return &Provider{
		HTTP:        httpClient,
		TokenURL:    endpoints.TokenURL,
		Credentials: creds,
		Logger:      logger,
	}, nil
}

// Fetch requests a fresh token. Every failure is returned as *AuthError.
func (p *Provider) Fetch(ctx context.Context) (AccessToken, error) {
	token, err := p.fetch(ctx)
	if err != nil {
		return AccessToken{}, &AuthError{Cause: err}
	}
	return token, nil
}

func (p *Provider) fetch(ctx context.Context) (AccessToken, error) {
	p.Logger.Debug("requesting access token",
		logging.Field("url", p.TokenURL),
		logging.Field("client_id", logging.Masked(p.Credentials.ClientID)),
	)

	form := url.Values{}
	form.Set("grant_type", grantClientCredentials)
	form.Set("client_id", p.Credentials.ClientID)
	form.Set("client_secret", p.Credentials.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpClient := p.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return AccessToken{}, err
	}
	defer resp.Body.Close()
	p.Logger.Debugf("POST %s -> %s", p.TokenURL, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		var body errorResponse
		if json.Unmarshal(data, &body) == nil {
			statusErr.Code = body.Error
			statusErr.Description = body.Description
		}
		p.Logger.Warn("access token request failed",
			logging.Field("status", resp.Status),
			logging.Field("error_code", statusErr.Code),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return AccessToken{}, statusErr
	}

	var body tokenResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return AccessToken{}, fmt.Errorf("invalid token response: %w", err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return AccessToken{}, errMissingAccessToken
	}
	if strings.TrimSpace(body.InstanceURL) == "" {
		return AccessToken{}, errMissingInstanceURL
	}

	token := AccessToken{
		Token:       strings.TrimSpace(body.AccessToken),
		InstanceURL: strings.TrimRight(strings.TrimSpace(body.InstanceURL), "/"),
		IssuedAt:    p.issuedAt(body.IssuedAt),
		ID:          body.ID,
		TokenType:   body.TokenType,
		ExpiresAt:   jwtExpiry(body.AccessToken),
	}
	p.Logger.Debug("access token acquired", logging.Field("token", token))
	return token, nil
}

// issuedAt parses the epoch-millisecond issued_at field, falling back to the
// local clock when it is absent or malformed.
func (p *Provider) issuedAt(raw string) time.Time {
	if millis, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && millis > 0 {
		return time.UnixMilli(millis)
	}
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// jwtExpiry returns the exp claim of JWT-formatted access tokens. Opaque
// tokens yield the zero time. The signature is not verified; the value only
// schedules a proactive refresh.
func jwtExpiry(raw string) time.Time {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
