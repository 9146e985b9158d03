package sessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Store using Redis as the backing store.
//
// Layout under prefix:
//
//	rec:<id>                  hash with the record fields
//	digest:<subject>:<hash>   record id
//	subject:<subject>         set of record ids
//
// Record and digest keys expire with the record, so Redis sweeps them itself.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based refresh record store. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "refresh:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) recKey(id string) string { return r.prefix + "rec:" + id }
func (r *RedisRepository) digestKey(subject, digest string) string {
	return r.prefix + "digest:" + subject + ":" + digest
}
func (r *RedisRepository) subjectKey(subject string) string { return r.prefix + "subject:" + subject }

// KEYS: rec, digest, subject. ARGV: id, subject, hash, expiresAt, createdAt, startedAt, ttl ms.
const putRecordLua = `
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'subjectId', ARGV[2], 'tokenHash', ARGV[3], 'revoked', '0', 'expiresAt', ARGV[4], 'createdAt', ARGV[5], 'sessionStartedAt', ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[7])
redis.call('SADD', KEYS[3], ARGV[1])
if redis.call('PTTL', KEYS[3]) < tonumber(ARGV[7]) then
  redis.call('PEXPIRE', KEYS[3], ARGV[7])
end
`

var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then return 0 end
` + putRecordLua + `
return 1`)

	// KEYS[4] is the record being replaced.
	rotateScript = redis.NewScript(`
if redis.call('HGET', KEYS[4], 'revoked') ~= '0' then return 0 end
redis.call('HSET', KEYS[4], 'revoked', '1')
` + putRecordLua + `
return 1`)

	revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'revoked', '1')
end
return 1`)

	// ARGV[1] is the record key prefix. Ids whose record expired are dropped from the set.
	revokeAllScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local k = ARGV[1] .. id
  local v = redis.call('HGET', k, 'revoked')
  if v == '0' then
    redis.call('HSET', k, 'revoked', '1')
    n = n + 1
  elseif not v then
    redis.call('SREM', KEYS[1], id)
  end
end
return n`)
)

func (r *RedisRepository) args(rec *RefreshRecord) []interface{} {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		// ensure a minimal TTL so Redis won't store expired records forever
		ttl = time.Second
	}
	return []interface{}{
		rec.ID,
		rec.SubjectID,
		rec.TokenHash,
		rec.ExpiresAt.UnixMilli(),
		rec.CreatedAt.UnixMilli(),
		rec.SessionStartedAt.UnixMilli(),
		ttl.Milliseconds(),
	}
}

func (r *RedisRepository) Create(ctx context.Context, rec *RefreshRecord) error {
	keys := []string{r.recKey(rec.ID), r.digestKey(rec.SubjectID, rec.TokenHash), r.subjectKey(rec.SubjectID)}
	n, err := createScript.Run(ctx, r.client, keys, r.args(rec)...).Int()
	if err != nil {
		return fmt.Errorf("sessions: redis create: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sessions: redis create: %w", ErrDuplicate)
	}
	return nil
}

func (r *RedisRepository) FindActive(ctx context.Context, subjectID, digest string) (*RefreshRecord, error) {
	id, err := r.client.Get(ctx, r.digestKey(subjectID, digest)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: redis find: %w", err)
	}
	rec, err := r.load(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Revoked {
		return nil, nil
	}
	return rec, nil
}

func (r *RedisRepository) load(ctx context.Context, id string) (*RefreshRecord, error) {
	m, err := r.client.HGetAll(ctx, r.recKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("sessions: redis load: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return &RefreshRecord{
		ID:               m["id"],
		SubjectID:        m["subjectId"],
		TokenHash:        m["tokenHash"],
		Revoked:          m["revoked"] == "1",
		ExpiresAt:        parseMillis(m["expiresAt"]),
		CreatedAt:        parseMillis(m["createdAt"]),
		SessionStartedAt: parseMillis(m["sessionStartedAt"]),
	}, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (r *RedisRepository) Revoke(ctx context.Context, id string) error {
	if err := revokeScript.Run(ctx, r.client, []string{r.recKey(id)}).Err(); err != nil {
		return fmt.Errorf("sessions: redis revoke: %w", err)
	}
	return nil
}

func (r *RedisRepository) RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	n, err := revokeAllScript.Run(ctx, r.client, []string{r.subjectKey(subjectID)}, r.prefix+"rec:").Int64()
	if err != nil {
		return 0, fmt.Errorf("sessions: redis revoke all: %w", err)
	}
	return n, nil
}

func (r *RedisRepository) Rotate(ctx context.Context, oldID string, next *RefreshRecord) error {
	keys := []string{
		r.recKey(next.ID),
		r.digestKey(next.SubjectID, next.TokenHash),
		r.subjectKey(next.SubjectID),
		r.recKey(oldID),
	}
	n, err := rotateScript.Run(ctx, r.client, keys, r.args(next)...).Int()
	if err != nil {
		return fmt.Errorf("sessions: redis rotate: %w", err)
	}
	if n == 0 {
		return ErrNotActive
	}
	return nil
}

// DeleteExpired is a no-op: every key carries the record TTL.
func (r *RedisRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
