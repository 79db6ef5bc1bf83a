package repository

import (
	"context"
	"errors"

	"certwatch/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("repository: not found")

// ErrOwnerRequired guards the per-tenant listing against the old
// empty-filter-means-everything convention. Sweeps must use ListAllActive.
var ErrOwnerRequired = errors.New("repository: owner id required; use ListAllActive for sweeps")

// DomainRegistry is the engine's read-only view of the domain collection.
// The external registry owns creation and deletion; nothing here writes.
type DomainRegistry interface {
	// ListActive returns one tenant's active domains. ownerID must be
	// non-empty.
	ListActive(ctx context.Context, ownerID string) ([]domain.Domain, error)

	// ListAllActive returns every active domain across all tenants. This is
	// the explicit sweep enumeration, distinct from any per-tenant listing.
	ListAllActive(ctx context.Context) ([]domain.Domain, error)

	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Domain, error)

	// FindByHostname resolves one tenant's registration of a hostname.
	// Hostnames are not unique across tenants, so the owner is part of
	// the key.
	FindByHostname(ctx context.Context, hostname, ownerID string) (*domain.Domain, error)
}

type mongoDomainRegistry struct {
	collection *mongo.Collection
}

// NewMongoDomainRegistry reads domains from the "domains" collection.
func NewMongoDomainRegistry(db *mongo.Database) DomainRegistry {
	return &mongoDomainRegistry{collection: db.Collection("domains")}
}

func (r *mongoDomainRegistry) ListActive(ctx context.Context, ownerID string) ([]domain.Domain, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	return r.list(ctx, bson.M{"active": true, "owner_id": ownerID})
}

func (r *mongoDomainRegistry) ListAllActive(ctx context.Context) ([]domain.Domain, error) {
	return r.list(ctx, bson.M{"active": true})
}

func (r *mongoDomainRegistry) list(ctx context.Context, filter bson.M) ([]domain.Domain, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var domains []domain.Domain
	if err := cursor.All(ctx, &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

func (r *mongoDomainRegistry) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Domain, error) {
	var d domain.Domain
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *mongoDomainRegistry) FindByHostname(ctx context.Context, hostname, ownerID string) (*domain.Domain, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	var d domain.Domain
	err := r.collection.FindOne(ctx, bson.M{"hostname": hostname, "owner_id": ownerID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
