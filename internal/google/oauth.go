package google

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/teemow/gmailbridge/internal/instrumentation"
	"github.com/teemow/gmailbridge/internal/store"
)

// Config holds the Google application credentials shared by the
// authorization flow and the Gmail API clients.
type Config struct {
	// ClientID is the Google OAuth application client ID.
	ClientID string

	// ClientSecret is the Google OAuth application client secret.
	ClientSecret string
}

// Validate checks that both application credentials are present.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("google client ID is required (set GOOGLE_CLIENT_ID)")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("google client secret is required (set GOOGLE_CLIENT_SECRET)")
	}
	return nil
}

// Flow performs the OAuth2 authorization-code flow against Google.
type Flow struct {
	config Config
}

// NewFlow creates a Flow from validated application credentials.
func NewFlow(config Config) (*Flow, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Flow{config: config}, nil
}

// oauthConfig returns the OAuth2 configuration for the given redirect URI.
// The redirect URI must be byte-identical between the authorization URL
// and the code exchange; Google rejects the exchange otherwise.
func (f *Flow) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.config.ClientID,
		ClientSecret: f.config.ClientSecret,
		Endpoint:     googleoauth.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       GmailScopes,
	}
}

// AuthCodeURL returns the Google consent screen URL. The state value is
// carried through the round trip opaquely; callers put the client ID in
// it. access_type=offline and prompt=consent together guarantee that a
// refresh token is issued even for previously authorized users.
func (f *Flow) AuthCodeURL(redirectURI, state string) string {
	conf := f.oauthConfig(redirectURI)
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for tokens.
func (f *Flow) Exchange(ctx context.Context, redirectURI, code string) (store.ClientCredential, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "oauth2", "exchange")
	defer span.End()

	conf := f.oauthConfig(redirectURI)

	t, err := conf.Exchange(ctx, code)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return store.ClientCredential{}, fmt.Errorf("failed to exchange auth code: %w", err)
	}

	instrumentation.SetSpanSuccess(span)
	return store.ClientCredential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}, nil
}

// TokenSource returns an auto-refreshing token source for a stored
// credential. The oauth2 library refreshes transparently through the
// refresh token once the access token has expired.
func (f *Flow) TokenSource(ctx context.Context, cred store.ClientCredential) oauth2.TokenSource {
	conf := f.oauthConfig("")

	expiry := cred.Expiry
	if expiry.IsZero() {
		// Unknown expiry: treat the token as expired so the first use refreshes
		expiry = time.Unix(1, 0)
	}

	return conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  cred.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: cred.RefreshToken,
		Expiry:       expiry,
	})
}
