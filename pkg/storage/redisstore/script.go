// Copyright 2025 Certen Protocol

package redisstore

// newFlightDataScript is the single server-side script that performs
// atomic record allocation: existence check on the
// record id, HINCRBY on the device's record counter, branch on modulo to
// decide whether a new dataset is needed, dataset hash create-or-update,
// HSET on the record, and ZADD on both the dataset and device ordered
// sets. This is the only point in the system that guarantees "every
// FlightData belongs to exactly one Dataset" under concurrent ingestion
// from the same device.
//
// The script deliberately does no hashing: dataset counters are plain
// integers, and the public base58(sha256(...)) Dataset.ID is a pure
// function of (device_id, counter) computed in Go after the script
// returns -- a non-racy, idempotent follow-up write, since any concurrent
// caller recomputing the same (device_id, counter) pair always derives
// the identical id. See pkg/identifier.DatasetID.
const newFlightDataScript = `
if redis.call('EXISTS', KEYS[2]) == 1 then
  return redis.error_reply('ALREADY_EXISTS')
end

local limit = tonumber(redis.call('HGET', KEYS[1], 'dataset_limit'))
if not limit then
  return redis.error_reply('DEVICE_NOT_FOUND')
end

local c = redis.call('HINCRBY', KEYS[1], 'record_count', 1)
local counter
local created = 0

if c % limit == 1 then
  if c == 1 then
    counter = 0
  else
    counter = math.floor((c - 1) / limit)
  end
  created = 1
else
  counter = tonumber(redis.call('HGET', KEYS[1], 'current_counter'))
end

local dataset_key = 'dataset:' .. ARGV[1] .. ':' .. counter
local count = ((c - 1) % limit) + 1

if created == 1 then
  redis.call('HSET', dataset_key, 'device', ARGV[1], 'limit', limit, 'counter', counter, 'count', count)
  redis.call('HSET', KEYS[1], 'current_counter', counter)
else
  redis.call('HSET', dataset_key, 'count', count)
end

redis.call('HSET', KEYS[2], 'id', ARGV[2], 'device', ARGV[1], 'signature', ARGV[3],
  'timestamp', ARGV[4], 'localization', ARGV[5], 'payload', ARGV[6], 'dataset_counter', counter)
redis.call('ZADD', 'dataset_flight_data:' .. ARGV[1] .. ':' .. counter, ARGV[4], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])

return {counter, count, created}
`
