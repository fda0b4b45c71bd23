package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that no record exists for the given client ID.
var ErrNotFound = errors.New("client not found")

// ErrNoCredential indicates that a record exists for the client ID but
// holds no Gmail access token (disconnected or never connected).
var ErrNoCredential = errors.New("no credential stored for client")

// ClientCredential is the persisted Gmail token state for one client ID.
// A credential with an empty AccessToken is considered disconnected; the
// record itself is never deleted, only its token fields are nulled.
type ClientCredential struct {
	ClientID     string    `bson:"_id" json:"clientId"`
	AccessToken  string    `bson:"gmail_access_token" json:"accessToken,omitempty"`
	RefreshToken string    `bson:"gmail_refresh_token" json:"refreshToken,omitempty"`
	Expiry       time.Time `bson:"gmail_token_expiry" json:"expiry,omitempty"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updatedAt"`
}

// Connected reports whether the credential carries an access token.
func (c ClientCredential) Connected() bool {
	return c.AccessToken != ""
}

// CredentialStore persists per-client Gmail credentials. Implementations
// must be safe for concurrent use; writes for the same client ID are
// last-writer-wins.
type CredentialStore interface {
	// Put upserts the credential fields into the client's record, leaving
	// any other fields of the record untouched, and stamps UpdatedAt.
	Put(ctx context.Context, clientID string, cred ClientCredential) error

	// Get returns the stored credential. It returns ErrNotFound when no
	// record exists and ErrNoCredential when the record exists but holds
	// no access token.
	Get(ctx context.Context, clientID string) (ClientCredential, error)

	// Clear nulls the token fields of an existing record and stamps
	// UpdatedAt. It returns ErrNotFound when no record exists.
	Clear(ctx context.Context, clientID string) error
}
