package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Domain is a hostname registered for certificate monitoring. The external
// domain registry owns this collection; the engine only reads it.
type Domain struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Hostname string             `bson:"hostname" json:"hostname"`
	Port     int                `bson:"port" json:"port"`
	OwnerID  string             `bson:"owner_id" json:"owner_id"`
	Active   bool               `bson:"active" json:"active"`
}

// CertificateRecord is one immutable probe outcome for a domain. The history
// per domain is append-only; the latest record by CheckedAt is authoritative.
type CertificateRecord struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DomainID primitive.ObjectID `bson:"domain_id" json:"domain_id"`

	Issuer    string    `bson:"issuer" json:"issuer"`
	Subject   string    `bson:"subject" json:"subject"`
	NotBefore time.Time `bson:"not_before" json:"not_before"`
	NotAfter  time.Time `bson:"not_after" json:"not_after"`

	// IsValid means the probe succeeded and CheckedAt fell inside
	// [NotBefore, NotAfter]. Chain of trust is deliberately not checked.
	IsValid bool   `bson:"is_valid" json:"is_valid"`
	Error   string `bson:"error,omitempty" json:"error,omitempty"`

	CheckedAt time.Time `bson:"checked_at" json:"checked_at"`
}
