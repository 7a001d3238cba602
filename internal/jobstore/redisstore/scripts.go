package redisstore

import "github.com/redis/go-redis/v9"

// claimScript promotes retrying jobs whose time has come into the ready set,
// then pops the oldest ready job and marks it processing.
//
// KEYS[1] ready zset, KEYS[2] delayed zset
// ARGV[1] now score, ARGV[2] now (unix nanos), ARGV[3] job key prefix
var claimScript = redis.NewScript(`
local ready, delayed, prefix = KEYS[1], KEYS[2], ARGV[3]
local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', delayed, id)
  local created = redis.call('HGET', prefix .. id, 'created_score')
  if created then
    redis.call('ZADD', ready, created, id)
  end
end
local head = redis.call('ZRANGE', ready, 0, 0)
if #head == 0 then
  return false
end
local id = head[1]
redis.call('ZREM', ready, id)
local key = prefix .. id
redis.call('HSET', key, 'state', 'processing', 'updated_at', ARGV[2])
redis.call('HDEL', key, 'next_attempt_at')
if redis.call('HEXISTS', key, 'started_at') == 0 then
  redis.call('HSET', key, 'started_at', ARGV[2])
end
return redis.call('HGETALL', key)
`)

// markScript applies a transition out of processing. It returns "ok" on
// success, "missing" when the hash does not exist, or the current state when
// the transition is refused.
//
// KEYS[1] job hash, KEYS[2] delayed zset
// ARGV[1] job id, ARGV[2] target state, ARGV[3] now (unix nanos),
// ARGV[4] delayed score (retrying only), ARGV[5..] field/value pairs
var markScript = redis.NewScript(`
local key, delayed = KEYS[1], KEYS[2]
if redis.call('EXISTS', key) == 0 then
  return 'missing'
end
local state = redis.call('HGET', key, 'state')
if state ~= 'processing' then
  return state
end
local target = ARGV[2]
if target == 'retrying' then
  local rc = tonumber(redis.call('HGET', key, 'retry_count'))
  local mr = tonumber(redis.call('HGET', key, 'max_retries'))
  if rc >= mr then
    return state
  end
  redis.call('HINCRBY', key, 'retry_count', 1)
  redis.call('ZADD', delayed, ARGV[4], ARGV[1])
end
redis.call('HSET', key, 'state', target, 'updated_at', ARGV[3])
for i = 5, #ARGV, 2 do
  redis.call('HSET', key, ARGV[i], ARGV[i + 1])
end
return 'ok'
`)
