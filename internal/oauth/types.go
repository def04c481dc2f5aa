package oauth

import (
	"log/slog"
	"time"

	"sfdc-subscriber/internal/logging"
)

// Credentials identify the connected app. They are supplied once at startup
// and never written to logs; LogValue only exposes a masked client id.
type Credentials struct {
	ClientID     string
	ClientSecret string
	LoginURL     string
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("login_url", c.LoginURL),
		slog.String("client_id", logging.Masked(c.ClientID)),
		slog.Any("client_secret", logging.Secret(c.ClientSecret)),
	)
}

// AccessToken is a bearer token plus the instance it is valid for. ExpiresAt
// is zero unless the token itself carries an expiry claim.
type AccessToken struct {
	Token       string
	InstanceURL string
	IssuedAt    time.Time
	ID          string
	TokenType   string
	ExpiresAt   time.Time
}

// Expired reports whether the token is known to be expired at now. Tokens
// without an expiry are treated as valid until the server rejects them.
func (t AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

func (t AccessToken) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("instance_url", t.InstanceURL),
		slog.Time("issued_at", t.IssuedAt),
		slog.Any("token", logging.Secret(t.Token)),
	}
	if !t.ExpiresAt.IsZero() {
		attrs = append(attrs, slog.Time("expires_at", t.ExpiresAt))
	}
	return slog.GroupValue(attrs...)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
	ID          string `json:"id"`
	TokenType   string `json:"token_type"`
	IssuedAt    string `json:"issued_at"`
	Signature   string `json:"signature"`
	Scope       string `json:"scope"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}
