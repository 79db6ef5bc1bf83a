package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validRecord(notAfter time.Time) *CertificateRecord {
	return &CertificateRecord{
		Issuer:    "R3",
		Subject:   "example.com",
		NotBefore: notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:  notAfter,
		IsValid:   true,
	}
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  *CertificateRecord
		want Tier
	}{
		{"no record", nil, TierNoCert},
		{"probe failure", &CertificateRecord{IsValid: false, Error: "SSL Error: connection timeout"}, TierInvalid},
		{"expired yesterday", validRecord(now.Add(-24 * time.Hour)), TierExpired},
		{"expires exactly now", validRecord(now), TierExpired},
		{"expires in 6 hours rounds up to critical", validRecord(now.Add(6 * time.Hour)), TierCritical},
		{"expires in 5 days", validRecord(now.Add(5 * 24 * time.Hour)), TierCritical},
		{"expires in exactly 7 days", validRecord(now.Add(7 * 24 * time.Hour)), TierCritical},
		{"expires in 7 days and an hour", validRecord(now.Add(7*24*time.Hour + time.Hour)), TierWarning},
		{"expires in 20 days", validRecord(now.Add(20 * 24 * time.Hour)), TierWarning},
		{"expires in exactly 30 days", validRecord(now.Add(30 * 24 * time.Hour)), TierWarning},
		{"expires in 45 days", validRecord(now.Add(45 * 24 * time.Hour)), TierValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.rec, now))
			// Pure function: a second call with identical inputs agrees.
			assert.Equal(t, tt.want, Classify(tt.rec, now))
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	known := map[Tier]bool{
		TierValid: true, TierWarning: true, TierCritical: true,
		TierExpired: true, TierInvalid: true, TierNoCert: true,
	}

	// Walk a wide range of expiry offsets; every one must land in a tier.
	for hours := -24 * 400; hours <= 24*400; hours += 7 {
		rec := validRecord(now.Add(time.Duration(hours) * time.Hour))
		tier := Classify(rec, now)
		if !known[tier] {
			t.Fatalf("Classify returned unknown tier %q at offset %dh", tier, hours)
		}
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysRemaining(now.Add(6*time.Hour), now))
	assert.Equal(t, 1, DaysRemaining(now.Add(24*time.Hour), now))
	assert.Equal(t, 2, DaysRemaining(now.Add(25*time.Hour), now))
	assert.Equal(t, 0, DaysRemaining(now, now))
	assert.Equal(t, -1, DaysRemaining(now.Add(-30*time.Hour), now))
}
