package redisq

import "github.com/go-redis/redis/v8"

// ARGV: prefix, queue, now ms, now timestamp.
var claimScript = redis.NewScript(`
local prefix, queue, now, stamp = ARGV[1], ARGV[2], tonumber(ARGV[3]), ARGV[4]
local waitKey = prefix .. ':wait:' .. queue
local delayedKey = prefix .. ':delayed:' .. queue
local due = redis.call('ZRANGEBYSCORE', delayedKey, '-inf', now)
for _, id in ipairs(due) do
  redis.call('ZREM', delayedKey, id)
  redis.call('RPUSH', waitKey, id)
end
while true do
  local id = redis.call('LPOP', waitKey)
  if not id then
    return false
  end
  local key = prefix .. ':job:' .. id
  local status = redis.call('HGET', key, 'status')
  if status == 'waiting' or status == 'delayed' then
    redis.call('HSET', key, 'status', 'active', 'started_at', stamp, 'updated_at', stamp)
    redis.call('HINCRBY', key, 'attempts_made', 1)
    return redis.call('HGETALL', key)
  end
end
`)

// ARGV: prefix, id, now ms, now timestamp.
var completeScript = redis.NewScript(`
local prefix, id, now, stamp = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
local key = prefix .. ':job:' .. id
if redis.call('HGET', key, 'status') ~= 'active' then
  return redis.error_reply('INVALID job is not active')
end
redis.call('HSET', key, 'status', 'completed', 'finished_at', stamp, 'updated_at', stamp, 'failed_reason', '')
local parent = redis.call('HGET', key, 'parent_id')
if parent and parent ~= '' then
  local parentKey = prefix .. ':job:' .. parent
  local left = redis.call('HINCRBY', parentKey, 'pending_children', -1)
  if left <= 0 and redis.call('HGET', parentKey, 'status') == 'waiting-children' then
    redis.call('HSET', parentKey, 'status', 'waiting', 'run_at', now, 'updated_at', stamp)
    redis.call('RPUSH', prefix .. ':wait:' .. redis.call('HGET', parentKey, 'queue'), parent)
  end
end
return 1
`)

// ARGV: prefix, id, run at ms, reason, now timestamp.
var retryScript = redis.NewScript(`
local prefix, id, runAt, reason, stamp = ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]
local key = prefix .. ':job:' .. id
if redis.call('HGET', key, 'status') ~= 'active' then
  return redis.error_reply('INVALID job is not active')
end
redis.call('HSET', key, 'status', 'delayed', 'run_at', runAt, 'failed_reason', reason, 'updated_at', stamp)
redis.call('ZADD', prefix .. ':delayed:' .. redis.call('HGET', key, 'queue'), runAt, id)
return 1
`)

// ARGV: prefix, id, reason, dependency reason, now timestamp. Returns the
// failed ancestor ids, nearest first.
var failScript = redis.NewScript(`
local prefix, id, reason, depReason, stamp = ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]
local key = prefix .. ':job:' .. id
if redis.call('HGET', key, 'status') ~= 'active' then
  return redis.error_reply('INVALID job is not active')
end
redis.call('HSET', key, 'status', 'failed', 'failed_reason', reason, 'finished_at', stamp, 'updated_at', stamp)
local failed = {}
local cursor = redis.call('HGET', key, 'parent_id')
while cursor and cursor ~= '' do
  local parentKey = prefix .. ':job:' .. cursor
  local status = redis.call('HGET', parentKey, 'status')
  if not status or status == 'completed' or status == 'failed' then
    break
  end
  redis.call('HSET', parentKey, 'status', 'failed', 'failed_reason', depReason, 'finished_at', stamp, 'updated_at', stamp)
  redis.call('LREM', prefix .. ':wait:' .. redis.call('HGET', parentKey, 'queue'), 0, cursor)
  table.insert(failed, cursor)
  cursor = redis.call('HGET', parentKey, 'parent_id')
end
return failed
`)

// ARGV: prefix, now timestamp.
var recoverScript = redis.NewScript(`
local prefix, stamp = ARGV[1], ARGV[2]
local count = 0
for _, id in ipairs(redis.call('SMEMBERS', prefix .. ':jobs')) do
  local key = prefix .. ':job:' .. id
  if redis.call('HGET', key, 'status') == 'active' then
    redis.call('HSET', key, 'status', 'waiting', 'updated_at', stamp)
    redis.call('RPUSH', prefix .. ':wait:' .. redis.call('HGET', key, 'queue'), id)
    count = count + 1
  end
end
return count
`)
