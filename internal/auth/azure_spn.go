package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/datakitchen/observability-agent/internal/redact"
)

// AzureServicePrincipal authenticates via OAuth2 client-credentials
// against Azure AD, treating the returned token as valid for 3600s
// minus the shared 300s safety margin regardless of what azidentity
// itself reports, per the spec's fixed-lifetime rule.
type AzureServicePrincipal struct {
	cred  *azidentity.ClientSecretCredential
	scope string
	cache *tokenRefresher
}

func NewAzureServicePrincipal(tenantID, clientID string, clientSecret redact.Secret, scope string) (*AzureServicePrincipal, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret.Reveal(), nil)
	if err != nil {
		return nil, err
	}
	a := &AzureServicePrincipal{cred: cred, scope: scope}
	a.cache = newTokenRefresher(a.fetch)
	return a, nil
}

func (a *AzureServicePrincipal) fetch(ctx context.Context) (string, time.Duration, error) {
	tok, err := a.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{a.scope}})
	if err != nil {
		return "", 0, err
	}
	return tok.Token, 3600 * time.Second, nil
}

func (a *AzureServicePrincipal) Apply(ctx context.Context, req *http.Request) error {
	token, err := a.cache.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
