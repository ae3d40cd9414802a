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

// PasswordResetRepository implements domain.PasswordResetRepository on MongoDB.
type PasswordResetRepository struct {
	tickets *mongo.Collection
}

// NewPasswordResetRepository creates a PasswordResetRepository and ensures
// its indexes.
func NewPasswordResetRepository(ctx context.Context, db *mongo.Database) (*PasswordResetRepository, error) {
	repo := &PasswordResetRepository{tickets: db.Collection(PasswordResetsCollection)}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := repo.tickets.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for password reset tickets collection")
	}

	return repo, nil
}

// Store inserts a new reset ticket.
func (r *PasswordResetRepository) Store(ctx context.Context, ticket *domain.PasswordResetTicket) error {
	if ticket.ID == "" {
		ticket.ID = NewID()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now().UTC()
	}

	if _, err := r.tickets.InsertOne(ctx, ticket); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		log.Error().Err(err).Msg("Error storing password reset ticket in MongoDB")
		return err
	}
	return nil
}

// ConsumeByTokenHash atomically marks the matching live ticket consumed and
// returns it. One document operation, so a ticket is consumed exactly once
// even under concurrent reset attempts.
func (r *PasswordResetRepository) ConsumeByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.PasswordResetTicket, error) {
	filter := bson.M{
		"token_hash":  tokenHash,
		"consumed_at": nil,
		"expires_at":  bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"consumed_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ticket domain.PasswordResetTicket
	err := r.tickets.FindOneAndUpdate(ctx, filter, update, opts).Decode(&ticket)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error consuming password reset ticket in MongoDB")
		return nil, err
	}
	return &ticket, nil
}

var _ domain.PasswordResetRepository = (*PasswordResetRepository)(nil)
