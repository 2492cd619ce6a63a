package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/itish2003/legaldoc/models"

	"github.com/redis/go-redis/v9"
)

// Records outlive their day by a margin so late releases still find them.
const recordTTL = 48 * time.Hour

// KEYS[1] record; ARGV: limit, cooldown ms, now ms, ttl s.
// Returns {code, wait ms, previous last ms or ""}; code 0 allowed, 1 daily limit, 2 cooldown.
var reserveScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local last = redis.call('HGET', KEYS[1], 'last')
if count >= tonumber(ARGV[1]) then
  return {1, 0, ''}
end
if last then
  local elapsed = tonumber(ARGV[3]) - tonumber(last)
  if elapsed < tonumber(ARGV[2]) then
    return {2, tonumber(ARGV[2]) - elapsed, last}
  end
end
redis.call('HSET', KEYS[1], 'count', count + 1, 'last', ARGV[3])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
return {0, 0, last or ''}
`)

// KEYS[1] record; ARGV: reservation time ms, previous last ms or "".
var releaseScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
if count > 0 then
  redis.call('HSET', KEYS[1], 'count', count - 1)
end
if redis.call('HGET', KEYS[1], 'last') == ARGV[1] then
  if ARGV[2] == '' then
    redis.call('HDEL', KEYS[1], 'last')
  else
    redis.call('HSET', KEYS[1], 'last', ARGV[2])
  end
end
return 1
`)

// RedisStore keeps one hash per usage:{user}:{date} with fields count and last (unix ms).
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, userID, date string) (*models.UsageRecord, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(userID, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &models.UsageRecord{UserID: userID, Date: date}
	if v, ok := fields["count"]; ok {
		if rec.RequestCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("corrupt usage count %q: %w", v, err)
		}
	}
	if v, ok := fields["last"]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return nil, err
		}
		rec.LastRequestTime = t
	}
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec *models.UsageRecord) error {
	key := recordKey(rec.UserID, rec.Date)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "count", rec.RequestCount)
		if rec.LastRequestTime != nil {
			pipe.HSet(ctx, key, "last", formatMillis(*rec.LastRequestTime))
		} else {
			pipe.HDel(ctx, key, "last")
		}
		pipe.Expire(ctx, key, recordTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save usage record: %w", err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, userID, date string, at time.Time) error {
	key := recordKey(userID, date)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HSet(ctx, key, "last", formatMillis(at))
		pipe.Expire(ctx, key, recordTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment usage record: %w", err)
	}
	return nil
}

func (s *RedisStore) Reserve(ctx context.Context, userID, date string, at time.Time, limit int, cooldown time.Duration) (Decision, error) {
	res, err := reserveScript.Run(ctx, s.client, []string{recordKey(userID, date)},
		limit, cooldown.Milliseconds(), formatMillis(at), int64(recordTTL/time.Second)).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to reserve usage slot: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected reserve reply %v", res)
	}
	code, _ := res[0].(int64)
	wait, _ := res[1].(int64)
	prev, _ := res[2].(string)

	switch code {
	case 0:
		prevLast, err := parseMillis(prev)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: Allowed, PrevLast: prevLast}, nil
	case 1:
		return Decision{Outcome: DeniedDailyLimit}, nil
	default:
		return Decision{Outcome: DeniedCooldown, Wait: time.Duration(wait) * time.Millisecond}, nil
	}
}

func (s *RedisStore) Release(ctx context.Context, userID, date string, at time.Time, prevLast *time.Time) error {
	prev := ""
	if prevLast != nil {
		prev = formatMillis(*prevLast)
	}
	if err := releaseScript.Run(ctx, s.client, []string{recordKey(userID, date)}, formatMillis(at), prev).Err(); err != nil {
		return fmt.Errorf("failed to release usage slot: %w", err)
	}
	return nil
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt usage timestamp %q: %w", v, err)
	}
	t := time.UnixMilli(ms)
	return &t, nil
}
