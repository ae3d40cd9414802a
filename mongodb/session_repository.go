package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mealtrace/mealtrace/domain"
)

// SessionRepository implements domain.SessionRepository on MongoDB.
type SessionRepository struct {
	sessions *mongo.Collection
}

// NewSessionRepository creates a SessionRepository and ensures its indexes.
func NewSessionRepository(ctx context.Context, db *mongo.Database) (*SessionRepository, error) {
	repo := &SessionRepository{sessions: db.Collection(SessionsCollection)}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "refresh_token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			// TTL cleanup for naturally expired sessions. Liveness checks
			// never rely on this; expiry is evaluated at lookup time.
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := repo.sessions.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for sessions collection (might already exist)")
	}

	return repo, nil
}

// StoreSession inserts a new session.
func (r *SessionRepository) StoreSession(ctx context.Context, session *domain.Session) error {
	if session.ID == "" {
		session.ID = NewID()
	}
	if session.IssuedAt.IsZero() {
		session.IssuedAt = time.Now().UTC()
	}

	if _, err := r.sessions.InsertOne(ctx, session); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		log.Error().Err(err).Msg("Error storing session in MongoDB")
		return err
	}
	return nil
}

// GetSessionByID retrieves a session by its primary ID.
func (r *SessionRepository) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error getting session by ID from MongoDB")
		return nil, err
	}
	return &session, nil
}

// GetSessionByTokenHash retrieves a session by its refresh token hash,
// regardless of state. Used for replay detection after a rotation miss.
func (r *SessionRepository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var session domain.Session
	err := r.sessions.FindOne(ctx, bson.M{"refresh_token_hash": tokenHash}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error getting session by token hash from MongoDB")
		return nil, err
	}
	return &session, nil
}

// RevokeActiveByTokenHash atomically revokes the active session holding the
// given refresh token hash and returns its pre-revocation state. The filter
// and update run as one document operation, so concurrent redemptions of the
// same token see exactly one winner.
func (r *SessionRepository) RevokeActiveByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.Session, error) {
	filter := bson.M{
		"refresh_token_hash": tokenHash,
		"revoked_at":         nil,
		"expires_at":         bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"revoked_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var session domain.Session
	err := r.sessions.FindOneAndUpdate(ctx, filter, update, opts).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error revoking session by token hash in MongoDB")
		return nil, err
	}
	return &session, nil
}

// RevokeSession marks the named session revoked. It is a no-op when the
// session is already revoked or does not exist; the bool reports whether a
// live session transitioned.
func (r *SessionRepository) RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) (bool, error) {
	filter := bson.M{"_id": sessionID, "user_id": userID, "revoked_at": nil}
	update := bson.M{"$set": bson.M{"revoked_at": now}}

	result, err := r.sessions.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("sessionID", sessionID).Msg("Error revoking session in MongoDB")
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// RevokeAllForUser revokes every active session of the user.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	filter := bson.M{"user_id": userID, "revoked_at": nil}
	update := bson.M{"$set": bson.M{"revoked_at": now}}

	result, err := r.sessions.UpdateMany(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error revoking sessions for user in MongoDB")
		return 0, err
	}
	return result.ModifiedCount, nil
}

var _ domain.SessionRepository = (*SessionRepository)(nil)
