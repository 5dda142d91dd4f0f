package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/id"
)

// CreateCredential persists a new credential. The unique key_hash index
// turns a hash collision into ErrDuplicateHash.
func (s *Store) CreateCredential(ctx context.Context, c *credential.Credential) error {
	m := toCredentialModel(c)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return credential.ErrDuplicateHash
		}

		return fmt.Errorf("relay/mongo: create credential: %w", err)
	}

	return nil
}

// GetCredential returns a credential by ID.
func (s *Store) GetCredential(ctx context.Context, credID id.ID) (*credential.Credential, error) {
	return s.findCredential(ctx, bson.M{"_id": credID.String()})
}

// GetCredentialByHash returns the credential whose key hashes to hash.
func (s *Store) GetCredentialByHash(ctx context.Context, hash string) (*credential.Credential, error) {
	return s.findCredential(ctx, bson.M{"key_hash": hash})
}

func (s *Store) findCredential(ctx context.Context, filter bson.M) (*credential.Credential, error) {
	var m credentialModel

	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credential.ErrNotFound
		}

		return nil, fmt.Errorf("relay/mongo: get credential: %w", err)
	}

	return fromCredentialModel(&m)
}

// ListCredentials returns a tenant's credentials, oldest first.
func (s *Store) ListCredentials(ctx context.Context, tenantID string, opts credential.ListOpts) ([]*credential.Credential, error) {
	var models []credentialModel

	filter := bson.M{"tenant_id": tenantID}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("relay/mongo: list credentials: %w", err)
	}

	result := make([]*credential.Credential, 0, len(models))

	for i := range models {
		c, err := fromCredentialModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, c)
	}

	return result, nil
}

// RevokeCredential sets active=false.
func (s *Store) RevokeCredential(ctx context.Context, credID id.ID) error {
	res, err := s.mdb.NewUpdate((*credentialModel)(nil)).
		Filter(bson.M{"_id": credID.String()}).
		Set("active", false).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: revoke credential: %w", err)
	}

	if res.MatchedCount() == 0 {
		return credential.ErrNotFound
	}

	return nil
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, credID id.ID) error {
	res, err := s.mdb.NewDelete((*credentialModel)(nil)).
		Filter(bson.M{"_id": credID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: delete credential: %w", err)
	}

	if res.DeletedCount() == 0 {
		return credential.ErrNotFound
	}

	return nil
}

// TouchCredential increments the usage counter with $inc.
func (s *Store) TouchCredential(ctx context.Context, credID id.ID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*credentialModel)(nil)).
		Filter(bson.M{"_id": credID.String()}).
		SetUpdate(bson.M{
			"$inc": bson.M{"usage_count": 1},
			"$set": bson.M{"last_used_at": at.UTC()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: touch credential: %w", err)
	}

	if res.MatchedCount() == 0 {
		return credential.ErrNotFound
	}

	return nil
}
