package domain

import (
	"math"
	"time"
)

// Tier is the derived risk classification for a domain's latest certificate.
// It is computed on demand and never persisted.
type Tier string

const (
	TierValid    Tier = "valid"
	TierWarning  Tier = "warning"
	TierCritical Tier = "critical"
	TierExpired  Tier = "expired"
	TierInvalid  Tier = "invalid"
	TierNoCert   Tier = "no-cert"
)

// Thresholds for the warning and critical tiers, in days until expiry.
const (
	criticalDays = 7
	warningDays  = 30
)

// Classify maps the latest record and the current time to a risk tier.
// It is pure: same inputs, same tier, no side effects.
//
// Days remaining are rounded up, so a certificate expiring in six hours
// counts as one day left (critical), not zero (expired).
func Classify(rec *CertificateRecord, now time.Time) Tier {
	if rec == nil {
		return TierNoCert
	}
	if !rec.IsValid {
		return TierInvalid
	}

	days := DaysRemaining(rec.NotAfter, now)
	switch {
	case days <= 0:
		return TierExpired
	case days <= criticalDays:
		return TierCritical
	case days <= warningDays:
		return TierWarning
	default:
		return TierValid
	}
}

// DaysRemaining returns ceil((notAfter - now) / 24h).
func DaysRemaining(notAfter, now time.Time) int {
	return int(math.Ceil(notAfter.Sub(now).Hours() / 24))
}
