// Package usage enforces the per-user daily request budget and cooldown for LLM calls.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"
)

const (
	DefaultDailyLimit = 10
	DefaultCooldown   = time.Second

	dailyLimitReason = "Daily API limit reached. Please try again tomorrow."
	cooldownReason   = "Please wait %.1f seconds before making another request."
	dateLayout       = "2006-01-02"
)

type Option func(*Gate)

func WithDailyLimit(n int) Option {
	return func(g *Gate) { g.limit = n }
}

func WithCooldown(d time.Duration) Option {
	return func(g *Gate) { g.cooldown = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLocation sets the time zone whose calendar day scopes the budget.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) { g.loc = loc }
}

func WithLogger(l logger.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// Gate decides whether a user may make another LLM request today.
type Gate struct {
	store    Store
	limit    int
	cooldown time.Duration
	now      func() time.Time
	loc      *time.Location
	log      logger.Logger
}

func NewGate(store Store, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		limit:    DefaultDailyLimit,
		cooldown: DefaultCooldown,
		now:      time.Now,
		loc:      time.Local,
		log:      logger.GetDefault(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "USAGE")
	return g
}

func (g *Gate) today(now time.Time) string {
	return now.In(g.loc).Format(dateLayout)
}

// Check reports whether userID may make a request now, creating today's record if missing.
// It does not consume budget; call Commit after the request succeeds.
func (g *Gate) Check(ctx context.Context, userID string) (bool, string, error) {
	now := g.now()
	date := g.today(now)
	rec, err := g.store.Load(ctx, userID, date)
	if err != nil {
		return false, "", err
	}
	if rec == nil {
		rec = &models.UsageRecord{UserID: userID, Date: date}
		if err := g.store.Save(ctx, rec); err != nil {
			return false, "", err
		}
		return true, "", nil
	}
	d := decide(rec, now, g.limit, g.cooldown)
	if d.Outcome == Allowed {
		return true, "", nil
	}
	return false, denialReason(d), nil
}

// Commit records one request made now.
func (g *Gate) Commit(ctx context.Context, userID string) error {
	now := g.now()
	return g.store.Increment(ctx, userID, g.today(now), now)
}

// Reserve checks and commits in one atomic step. A denial is a *models.Error of kind rate_limited;
// cooldown denials carry the remaining wait in RetryAfter. The slot is stamped with the reserve
// time, so the cooldown runs from the start of the call.
func (g *Gate) Reserve(ctx context.Context, userID string) (*Reservation, error) {
	now := g.now()
	date := g.today(now)
	d, err := g.store.Reserve(ctx, userID, date, now, g.limit, g.cooldown)
	if err != nil {
		return nil, err
	}
	if d.Outcome != Allowed {
		reason := denialReason(d)
		g.log.Info("request denied", "user", userID, "reason", reason)
		denied := models.NewError(models.KindRateLimited, reason, nil)
		denied.RetryAfter = d.Wait
		return nil, denied
	}
	return &Reservation{gate: g, userID: userID, date: date, at: now, prevLast: d.PrevLast}, nil
}

// Usage returns today's record for userID, or an empty one.
func (g *Gate) Usage(ctx context.Context, userID string) (*models.UsageRecord, error) {
	date := g.today(g.now())
	rec, err := g.store.Load(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &models.UsageRecord{UserID: userID, Date: date}
	}
	return rec, nil
}

func (g *Gate) DailyLimit() int {
	return g.limit
}

func denialReason(d Decision) string {
	if d.Outcome == DeniedDailyLimit {
		return dailyLimitReason
	}
	return fmt.Sprintf(cooldownReason, d.Wait.Seconds())
}

// Reservation is a consumed slot. Commit keeps it; Release gives it back. Only the first call counts.
type Reservation struct {
	gate     *Gate
	userID   string
	date     string
	at       time.Time
	prevLast *time.Time

	once sync.Once
}

func (r *Reservation) Commit() {
	r.once.Do(func() {})
}

// Release returns the slot, for calls that never reached the provider successfully.
func (r *Reservation) Release(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		err = r.gate.store.Release(ctx, r.userID, r.date, r.at, r.prevLast)
	})
	return err
}
