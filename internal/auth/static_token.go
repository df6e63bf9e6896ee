package auth

import (
	"context"
	"net/http"

	"github.com/datakitchen/observability-agent/internal/redact"
)

// StaticToken injects a fixed header on every request, default
// `Authorization: Bearer <token>`.
type StaticToken struct {
	Token       redact.Secret
	HeaderName  string
	TokenPrefix string
}

func NewStaticToken(token redact.Secret, headerName, tokenPrefix string) *StaticToken {
	if headerName == "" {
		headerName = "Authorization"
	}
	return &StaticToken{Token: token, HeaderName: headerName, TokenPrefix: tokenPrefix}
}

func (s *StaticToken) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set(s.HeaderName, s.TokenPrefix+s.Token.Reveal())
	return nil
}

// Basic applies HTTP Basic authentication.
type Basic struct {
	Username string
	Password redact.Secret
}

func NewBasic(username string, password redact.Secret) *Basic {
	return &Basic{Username: username, Password: password}
}

func (b *Basic) Apply(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password.Reveal())
	return nil
}
