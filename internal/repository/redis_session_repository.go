package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/medcare-service/internal/domain"
)

// revokeAllScript deletes every session listed in an identity's index set in one step.
var revokeAllScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, fp in ipairs(members) do
    removed = removed + redis.call('DEL', ARGV[1] .. fp)
end
redis.call('DEL', KEYS[1])
return removed
`)

// createSessionScript writes the session hash and indexes it under its identity in one step.
// Index members whose session already expired are pruned, and the index lives as long as its
// longest-lived session. An exp of 0 means the session never expires.
var createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
local exp = tonumber(ARGV[3])
redis.call('HSET', KEYS[1], 'uid', ARGV[1], 'iat', ARGV[2], 'exp', ARGV[3])
if exp > 0 then
    redis.call('EXPIREAT', KEYS[1], exp)
end

for _, fp in ipairs(redis.call('SMEMBERS', KEYS[2])) do
    if redis.call('EXISTS', ARGV[5] .. fp) == 0 then
        redis.call('SREM', KEYS[2], fp)
    end
end
local ttl = redis.call('TTL', KEYS[2])
redis.call('SADD', KEYS[2], ARGV[4])

if exp == 0 then
    redis.call('PERSIST', KEYS[2])
elseif ttl == -2 then
    redis.call('EXPIREAT', KEYS[2], exp)
elseif ttl >= 0 then
    local now = tonumber(redis.call('TIME')[1])
    if now + ttl < exp then
        redis.call('EXPIREAT', KEYS[2], exp)
    end
end
return 1
`)

// RedisSessionRepository stores refresh sessions as Redis hashes that expire with the token.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionRepository wraps a go-redis client. An empty prefix defaults to "medcare:rt:".
func NewRedisSessionRepository(client *redis.Client, prefix string) *RedisSessionRepository {
	if prefix == "" {
		prefix = "medcare:rt:"
	}
	return &RedisSessionRepository{client: client, prefix: prefix}
}

func (r *RedisSessionRepository) sessionPrefix() string { return r.prefix + "s:" }

func (r *RedisSessionRepository) sessionKey(fp string) string { return r.sessionPrefix() + fp }

func (r *RedisSessionRepository) identityKey(id string) string { return r.prefix + "u:" + id }

func (r *RedisSessionRepository) CreateRefreshRecord(ctx context.Context, session domain.RefreshSession) error {
	exp := int64(0)
	if !session.ExpiresAt.IsZero() {
		exp = session.ExpiresAt.Unix()
	}
	created, err := createSessionScript.Run(ctx, r.client,
		[]string{r.sessionKey(session.Fingerprint), r.identityKey(session.IdentityID)},
		session.IdentityID,
		strconv.FormatInt(session.IssuedAt.Unix(), 10),
		strconv.FormatInt(exp, 10),
		session.Fingerprint,
		r.sessionPrefix(),
	).Int64()
	if err != nil {
		return err
	}
	if created == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *RedisSessionRepository) FindRefreshRecord(ctx context.Context, fingerprint string) (*domain.RefreshSession, error) {
	m, err := r.client.HGetAll(ctx, r.sessionKey(fingerprint)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, domain.ErrNotFound
	}

	session := &domain.RefreshSession{Fingerprint: fingerprint, IdentityID: m["uid"]}
	if iat, err := strconv.ParseInt(m["iat"], 10, 64); err == nil {
		session.IssuedAt = time.Unix(iat, 0).UTC()
	}
	if exp, err := strconv.ParseInt(m["exp"], 10, 64); err == nil && exp > 0 {
		session.ExpiresAt = time.Unix(exp, 0).UTC()
	}
	return session, nil
}

func (r *RedisSessionRepository) DeleteRefreshRecord(ctx context.Context, fingerprint string) (bool, error) {
	key := r.sessionKey(fingerprint)

	uid, err := r.client.HGet(ctx, key, "uid").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}

	removed, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if removed == 1 && uid != "" {
		_ = r.client.SRem(ctx, r.identityKey(uid), fingerprint).Err()
	}
	return removed == 1, nil
}

func (r *RedisSessionRepository) DeleteAllRefreshRecordsForIdentity(ctx context.Context, identityID string) (int64, error) {
	return revokeAllScript.Run(ctx, r.client, []string{r.identityKey(identityID)}, r.sessionPrefix()).Int64()
}
