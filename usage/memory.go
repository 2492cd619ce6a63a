package usage

import (
	"context"
	"sync"
	"time"

	"github.com/itish2003/legaldoc/models"
)

// MemoryStore keeps usage in process memory. One mutex serialises every operation.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.UsageRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.UsageRecord)}
}

func (s *MemoryStore) Load(_ context.Context, userID, date string) (*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(userID, date)]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Save(_ context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(rec.UserID, rec.Date)] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, userID, date string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(userID, date)
	rec.RequestCount++
	rec.LastRequestTime = &at
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, userID, date string, at time.Time, limit int, cooldown time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(userID, date)
	d := decide(rec, at, limit, cooldown)
	if d.Outcome == Allowed {
		rec.RequestCount++
		rec.LastRequestTime = &at
	}
	return d, nil
}

func (s *MemoryStore) Release(_ context.Context, userID, date string, at time.Time, prevLast *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(userID, date)]
	if !ok {
		return nil
	}
	if rec.RequestCount > 0 {
		rec.RequestCount--
	}
	if rec.LastRequestTime != nil && rec.LastRequestTime.Equal(at) {
		rec.LastRequestTime = prevLast
	}
	return nil
}

func (s *MemoryStore) getOrCreate(userID, date string) *models.UsageRecord {
	key := recordKey(userID, date)
	rec, ok := s.records[key]
	if !ok {
		rec = &models.UsageRecord{UserID: userID, Date: date}
		s.records[key] = rec
	}
	return rec
}

func recordKey(userID, date string) string {
	return "usage:" + userID + ":" + date
}

func copyRecord(rec *models.UsageRecord) *models.UsageRecord {
	c := *rec
	if rec.LastRequestTime != nil {
		t := *rec.LastRequestTime
		c.LastRequestTime = &t
	}
	return &c
}
