package license

import (
	"context"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/wildapricot"
)

// TokenSource yields a currently-valid delegated access token.
type TokenSource interface {
	ValidAccessToken(ctx context.Context) (domain.Credential, error)
}

// AccountSource loads the Wild Apricot account resource.
type AccountSource interface {
	GetAccount(ctx context.Context, accessToken string, accountID int64) (*wildapricot.Account, error)
}

// CredentialIdentity resolves the gateway's identity from the delegated
// credential and the remote account record.
type CredentialIdentity struct {
	tokens   TokenSource
	accounts AccountSource
	siteURL  string
}

var _ IdentityProvider = (*CredentialIdentity)(nil)

// NewCredentialIdentity wires the production identity provider. siteURL is
// the content host's public URL from configuration.
func NewCredentialIdentity(tokens TokenSource, accounts AccountSource, siteURL string) *CredentialIdentity {
	return &CredentialIdentity{tokens: tokens, accounts: accounts, siteURL: siteURL}
}

// CurrentIdentity returns the account id and URLs license checks compare
// against.
func (p *CredentialIdentity) CurrentIdentity(ctx context.Context) (Identity, error) {
	cred, err := p.tokens.ValidAccessToken(ctx)
	if err != nil {
		return Identity{}, err
	}
	account, err := p.accounts.GetAccount(ctx, cred.AccessToken, cred.AccountID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		AccountID: account.ID,
		SiteURL:   p.siteURL,
		WAURL:     "https://" + account.PrimaryDomainName,
	}, nil
}
