package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mealtrace/mealtrace/domain"
)

// LinkedIdentityRepository implements domain.LinkedIdentityRepository on MongoDB.
type LinkedIdentityRepository struct {
	identities *mongo.Collection
}

// NewLinkedIdentityRepository creates a LinkedIdentityRepository and ensures
// its indexes.
func NewLinkedIdentityRepository(ctx context.Context, db *mongo.Database) (*LinkedIdentityRepository, error) {
	repo := &LinkedIdentityRepository{identities: db.Collection(LinkedIdentitiesCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create linked_identities indexes")
	}
	return repo, nil
}

func (r *LinkedIdentityRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// A provider subject resolves to exactly one local account.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// An account holds at most one identity per provider.
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := r.identities.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", LinkedIdentitiesCollection, err)
	}
	return nil
}

// Create inserts a new provider binding. Returns domain.ErrDuplicate when
// either uniqueness constraint rejects it.
func (r *LinkedIdentityRepository) Create(ctx context.Context, identity *domain.LinkedIdentity) error {
	if identity.ID == "" {
		identity.ID = NewID()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	if _, err := r.identities.InsertOne(ctx, identity); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		log.Error().Err(err).Str("provider", identity.Provider).Msg("Error creating linked identity in MongoDB")
		return err
	}
	return nil
}

// GetByProviderSubject retrieves the binding for a provider subject.
func (r *LinkedIdentityRepository) GetByProviderSubject(ctx context.Context, provider, providerUserID string) (*domain.LinkedIdentity, error) {
	filter := bson.M{"provider": provider, "provider_user_id": providerUserID}

	var identity domain.LinkedIdentity
	err := r.identities.FindOne(ctx, filter).Decode(&identity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("provider", provider).Msg("Error getting linked identity from MongoDB")
		return nil, err
	}
	return &identity, nil
}

var _ domain.LinkedIdentityRepository = (*LinkedIdentityRepository)(nil)
