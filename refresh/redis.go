package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/gatekeep/clock"
)

const (
	rotateStatusNotFound  int64 = 0
	rotateStatusRevoked   int64 = 1
	rotateStatusReplay    int64 = 2
	rotateStatusExpired   int64 = 3
	rotateStatusRotated   int64 = 4
	rotateStatusDuplicate int64 = 5
)

// revokeChainLua is shared by the rotate and lineage scripts. It follows the
// "succ" field from start_key and stops after limit hops.
const revokeChainLua = `
local function revoke_chain(start_key, prefix, limit)
  local key = start_key
  local n = 0
  for i = 1, limit do
    local st = redis.call("HGET", key, "state")
    if not st then
      break
    end
    if st ~= "revoked" then
      redis.call("HSET", key, "state", "revoked")
      n = n + 1
    end
    local succ = redis.call("HGET", key, "succ")
    if not succ or succ == "" then
      break
    end
    key = prefix .. succ
  end
  return n
end
`

const createRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "sub", ARGV[1], "role", ARGV[2], "iat", ARGV[3], "exp", ARGV[4], "state", "active", "succ", "")
redis.call("PEXPIREAT", KEYS[1], ARGV[4])
redis.call("SADD", KEYS[2], ARGV[5])
redis.call("PEXPIREAT", KEYS[2], ARGV[4])
return 1
`

var createRecordLua = redis.NewScript(createRecordScript)

const rotateRecordScript = revokeChainLua + `
local rec_key = KEYS[1]
local succ_key = KEYS[2]
local subject_key = KEYS[3]
local now_ms = tonumber(ARGV[1])
local succ_id = ARGV[2]
local prefix = ARGV[7]
local limit = tonumber(ARGV[8])

local fields = redis.call("HMGET", rec_key, "state", "sub", "role", "iat", "exp")
local state = fields[1]
if not state then
  return {0}
end
if state == "revoked" then
  return {1}
end
if state == "rotated" then
  revoke_chain(rec_key, prefix, limit)
  return {2}
end
if tonumber(fields[5]) <= now_ms then
  return {3}
end
if redis.call("EXISTS", succ_key) == 1 then
  return {5}
end

redis.call("HSET", rec_key, "state", "rotated", "succ", succ_id)
redis.call("HSET", succ_key, "sub", ARGV[3], "role", ARGV[4], "iat", ARGV[5], "exp", ARGV[6], "state", "active", "succ", "")
redis.call("PEXPIREAT", succ_key, ARGV[6])
redis.call("SADD", subject_key, succ_id)
redis.call("PEXPIREAT", subject_key, ARGV[6])

return {4, fields[2], fields[3], fields[4], fields[5]}
`

var rotateRecordLua = redis.NewScript(rotateRecordScript)

const revokeLineageScript = revokeChainLua + `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return revoke_chain(KEYS[1], ARGV[1], tonumber(ARGV[2]))
`

var revokeLineageLua = redis.NewScript(revokeLineageScript)

const revokeRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "state", "revoked")
return 1
`

var revokeRecordLua = redis.NewScript(revokeRecordScript)

const revokeSubjectScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local st = redis.call("HGET", key, "state")
  if not st then
    redis.call("SREM", KEYS[1], id)
  elseif st ~= "revoked" then
    redis.call("HSET", key, "state", "revoked")
    n = n + 1
  end
end
return n
`

var revokeSubjectLua = redis.NewScript(revokeSubjectScript)

// RedisStore is a Redis-backed [Store]. Every record is a hash that expires
// with the token it describes; a per-subject set indexes live records.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisStore creates a [RedisStore]. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string, clk clock.Clock) *RedisStore {
	if prefix == "" {
		prefix = "gk"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		clock:  clock.OrSystem(clk),
	}
}

func (s *RedisStore) recordPrefix() string {
	return s.prefix + ":rt:"
}

func (s *RedisStore) key(tokenID string) string {
	return s.recordPrefix() + tokenID
}

func (s *RedisStore) subjectKey(subject string) string {
	return s.prefix + ":rs:" + subject
}

// Create registers rec as Active.
//
//	Performance: 1 script call.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	created, err := createRecordLua.Run(ctx, s.redis,
		[]string{s.key(rec.TokenID), s.subjectKey(rec.Subject)},
		rec.Subject, rec.Role, rec.IssuedAt.UnixMilli(), rec.ExpiresAt.UnixMilli(), rec.TokenID,
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	if created == 0 {
		return ErrDuplicate
	}
	return nil
}

// Get returns the record for tokenID.
//
//	Performance: 1 HGETALL.
func (s *RedisStore) Get(ctx context.Context, tokenID string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tokenID)).Result()
	if err != nil {
		return Record{}, unavailable(err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}

	state, ok := parseState(fields["state"])
	if !ok {
		return Record{}, fmt.Errorf("%w: corrupt state %q", ErrUnavailable, fields["state"])
	}
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt iat: %v", ErrUnavailable, err)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt exp: %v", ErrUnavailable, err)
	}

	return Record{
		TokenID:     tokenID,
		Subject:     fields["sub"],
		Role:        fields["role"],
		IssuedAt:    time.UnixMilli(iat),
		ExpiresAt:   time.UnixMilli(exp),
		State:       state,
		SuccessorID: fields["succ"],
	}, nil
}

// Rotate implements [Store.Rotate] in a single script so the state check,
// transition and successor insert are atomic.
//
//	Performance: 1 script call; a replay additionally walks the lineage.
func (s *RedisStore) Rotate(ctx context.Context, tokenID string, successor Record) (Record, error) {
	if err := successor.validate(); err != nil {
		return Record{}, err
	}
	if successor.TokenID == tokenID {
		return Record{}, ErrInvalidRecord
	}

	res, err := rotateRecordLua.Run(ctx, s.redis,
		[]string{s.key(tokenID), s.key(successor.TokenID), s.subjectKey(successor.Subject)},
		s.clock.Now().UnixMilli(),
		successor.TokenID,
		successor.Subject,
		successor.Role,
		successor.IssuedAt.UnixMilli(),
		successor.ExpiresAt.UnixMilli(),
		s.recordPrefix(),
		maxLineageDepth,
	).Slice()
	if err != nil {
		return Record{}, unavailable(err)
	}
	if len(res) == 0 {
		return Record{}, fmt.Errorf("%w: empty rotate reply", ErrUnavailable)
	}

	status, ok := res[0].(int64)
	if !ok {
		return Record{}, fmt.Errorf("%w: unexpected rotate status %T", ErrUnavailable, res[0])
	}

	switch status {
	case rotateStatusNotFound:
		return Record{}, ErrNotFound
	case rotateStatusRevoked:
		return Record{}, ErrRevoked
	case rotateStatusReplay:
		return Record{}, ErrReplayDetected
	case rotateStatusExpired:
		return Record{}, ErrExpired
	case rotateStatusDuplicate:
		return Record{}, ErrDuplicate
	case rotateStatusRotated:
	default:
		return Record{}, fmt.Errorf("%w: unexpected rotate status %d", ErrUnavailable, status)
	}

	if len(res) != 5 {
		return Record{}, fmt.Errorf("%w: malformed rotate reply", ErrUnavailable)
	}
	iat, err := strconv.ParseInt(fmt.Sprint(res[3]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt iat: %v", ErrUnavailable, err)
	}
	exp, err := strconv.ParseInt(fmt.Sprint(res[4]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt exp: %v", ErrUnavailable, err)
	}

	return Record{
		TokenID:     tokenID,
		Subject:     fmt.Sprint(res[1]),
		Role:        fmt.Sprint(res[2]),
		IssuedAt:    time.UnixMilli(iat),
		ExpiresAt:   time.UnixMilli(exp),
		State:       StateRotated,
		SuccessorID: successor.TokenID,
	}, nil
}

// Revoke marks tokenID Revoked.
func (s *RedisStore) Revoke(ctx context.Context, tokenID string) error {
	n, err := revokeRecordLua.Run(ctx, s.redis, []string{s.key(tokenID)}).Int64()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeLineage revokes tokenID and its successors.
func (s *RedisStore) RevokeLineage(ctx context.Context, tokenID string) (int, error) {
	n, err := revokeLineageLua.Run(ctx, s.redis,
		[]string{s.key(tokenID)},
		s.recordPrefix(), maxLineageDepth,
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return int(n), nil
}

// RevokeSubject revokes every live record in the subject index and prunes
// index entries whose record already expired.
func (s *RedisStore) RevokeSubject(ctx context.Context, subject string) (int, error) {
	n, err := revokeSubjectLua.Run(ctx, s.redis,
		[]string{s.subjectKey(subject)},
		s.recordPrefix(),
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
