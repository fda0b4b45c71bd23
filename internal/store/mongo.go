package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection holding one document per client ID.
const DefaultCollection = "clients"

var _ CredentialStore = &MongoStore{}

// MongoStore is a MongoDB-backed CredentialStore. Each client is one
// document keyed by _id; token updates are atomic $set partial updates so
// concurrent writers for the same client cannot lose unrelated fields.
type MongoStore struct {
	clients *mongo.Collection
}

// NewMongoStore creates a store backed by the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		clients: db.Collection(DefaultCollection),
	}
}

// Put upserts the credential fields for a client.
func (s *MongoStore) Put(ctx context.Context, clientID string, cred ClientCredential) error {
	update := bson.M{"$set": bson.M{
		"gmail_access_token":  cred.AccessToken,
		"gmail_refresh_token": cred.RefreshToken,
		"gmail_token_expiry":  cred.Expiry,
		"updated_at":          time.Now().UTC(),
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.clients.UpdateOne(ctx, bson.M{"_id": clientID}, update, opts); err != nil {
		return fmt.Errorf("failed to store credential for client %s: %w", clientID, err)
	}
	return nil
}

// Get returns the stored credential for a client.
func (s *MongoStore) Get(ctx context.Context, clientID string) (ClientCredential, error) {
	var doc struct {
		AccessToken  string    `bson:"gmail_access_token"`
		RefreshToken string    `bson:"gmail_refresh_token"`
		Expiry       time.Time `bson:"gmail_token_expiry"`
		UpdatedAt    time.Time `bson:"updated_at"`
	}
	err := s.clients.FindOne(ctx, bson.M{"_id": clientID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ClientCredential{}, ErrNotFound
		}
		return ClientCredential{}, fmt.Errorf("failed to load credential for client %s: %w", clientID, err)
	}
	if doc.AccessToken == "" {
		return ClientCredential{}, ErrNoCredential
	}
	return ClientCredential{
		ClientID:     clientID,
		AccessToken:  doc.AccessToken,
		RefreshToken: doc.RefreshToken,
		Expiry:       doc.Expiry,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

// Clear nulls the token fields of an existing client record. Other fields
// of the document are preserved.
func (s *MongoStore) Clear(ctx context.Context, clientID string) error {
	update := bson.M{"$set": bson.M{
		"gmail_access_token":  nil,
		"gmail_refresh_token": nil,
		"gmail_token_expiry":  nil,
		"updated_at":          time.Now().UTC(),
	}}
	res, err := s.clients.UpdateOne(ctx, bson.M{"_id": clientID}, update)
	if err != nil {
		return fmt.Errorf("failed to clear credential for client %s: %w", clientID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
