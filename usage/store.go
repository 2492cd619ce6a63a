package usage

import (
	"context"
	"time"

	"github.com/itish2003/legaldoc/models"
)

// Outcome is the result of an atomic reserve attempt.
type Outcome int

const (
	Allowed Outcome = iota
	DeniedDailyLimit
	DeniedCooldown
)

// Decision describes a reserve attempt. Wait is set for cooldown denials; PrevLast is the
// last request time before an allowed reservation, needed to undo it.
type Decision struct {
	Outcome  Outcome
	Wait     time.Duration
	PrevLast *time.Time
}

// Store persists one UsageRecord per (user, date).
type Store interface {
	// Load returns nil, nil when no record exists.
	Load(ctx context.Context, userID, date string) (*models.UsageRecord, error)
	Save(ctx context.Context, rec *models.UsageRecord) error
	// Increment adds one request at time at, creating the record if needed.
	Increment(ctx context.Context, userID, date string, at time.Time) error
	// Reserve applies the limit and cooldown rules and, when allowed, increments in the same step.
	Reserve(ctx context.Context, userID, date string, at time.Time, limit int, cooldown time.Duration) (Decision, error)
	// Release undoes a reservation made at time at. The last request time is restored to
	// prevLast only if no later request has replaced it.
	Release(ctx context.Context, userID, date string, at time.Time, prevLast *time.Time) error
}

// decide applies the daily-limit rule, then the cooldown rule.
func decide(rec *models.UsageRecord, at time.Time, limit int, cooldown time.Duration) Decision {
	if rec.RequestCount >= limit {
		return Decision{Outcome: DeniedDailyLimit}
	}
	if rec.LastRequestTime != nil {
		elapsed := at.Sub(*rec.LastRequestTime)
		if elapsed < cooldown {
			return Decision{Outcome: DeniedCooldown, Wait: cooldown - elapsed}
		}
	}
	return Decision{Outcome: Allowed, PrevLast: rec.LastRequestTime}
}
