package repository

import (
	"context"
	"errors"
	"time"

	"certwatch/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ExpiringCertificate pairs a domain with its latest valid record for the
// expiring-soon query consumed by the alert dispatcher.
type ExpiringCertificate struct {
	Domain domain.Domain            `bson:"domain" json:"domain"`
	Record domain.CertificateRecord `bson:",inline" json:"record"`
}

// RecordStore is the append-only sink for probe outcomes. There are no
// update or delete operations: history is immutable by construction.
type RecordStore interface {
	// Insert appends one probe outcome. Exactly one insert happens per
	// completed probe attempt, success or failure.
	Insert(ctx context.Context, rec domain.CertificateRecord) error

	// Latest returns the newest record for a domain by CheckedAt, or
	// (nil, nil) when the domain has never been probed.
	Latest(ctx context.Context, domainID primitive.ObjectID) (*domain.CertificateRecord, error)

	// ListExpiring returns active domains whose latest valid certificate
	// expires within [now, now+lookaheadDays].
	ListExpiring(ctx context.Context, lookaheadDays int, now time.Time) ([]ExpiringCertificate, error)
}

type mongoRecordStore struct {
	collection *mongo.Collection
}

// NewMongoRecordStore writes probe outcomes to the "certificate_checks"
// collection.
func NewMongoRecordStore(db *mongo.Database) RecordStore {
	return &mongoRecordStore{collection: db.Collection("certificate_checks")}
}

func (r *mongoRecordStore) Insert(ctx context.Context, rec domain.CertificateRecord) error {
	_, err := r.collection.InsertOne(ctx, rec)
	return err
}

func (r *mongoRecordStore) Latest(ctx context.Context, domainID primitive.ObjectID) (*domain.CertificateRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "checked_at", Value: -1}})

	var rec domain.CertificateRecord
	err := r.collection.FindOne(ctx, bson.M{"domain_id": domainID}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *mongoRecordStore) ListExpiring(ctx context.Context, lookaheadDays int, now time.Time) ([]ExpiringCertificate, error) {
	until := now.Add(time.Duration(lookaheadDays) * 24 * time.Hour)

	// Latest record per domain, then filter to valid certs expiring inside
	// the lookahead window, then join the owning domain.
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "domain_id", Value: 1}, {Key: "checked_at", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$domain_id"},
			{Key: "latest", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$latest"}}}},
		{{Key: "$match", Value: bson.D{
			{Key: "is_valid", Value: true},
			{Key: "not_after", Value: bson.D{
				{Key: "$gte", Value: now},
				{Key: "$lte", Value: until},
			}},
		}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "domains"},
			{Key: "localField", Value: "domain_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "domain"},
		}}},
		{{Key: "$unwind", Value: "$domain"}},
		{{Key: "$match", Value: bson.D{{Key: "domain.active", Value: true}}}},
		{{Key: "$sort", Value: bson.D{{Key: "not_after", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []ExpiringCertificate
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
