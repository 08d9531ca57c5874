package redis

import "github.com/redis/go-redis/v9"

// Every multi-key mutation is one Lua script so the job record and its
// derived indexes (pending list, delayed set, status sets, tag sets,
// queue membership) always change together.

// enqueueScript allocates an ID and writes the job record plus all
// index entries. Returns -1 if the queue no longer exists.
//
// KEYS: 1=queue settings, 2=ID counter, 3=pending list,
// 4=status:queued set, 5=queue membership set.
// ARGV: 1=job key prefix, 2=tag key prefix, 3=tags (JSON array),
// 4..=field/value pairs.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local id = redis.call('INCR', KEYS[2])
local jobKey = ARGV[1] .. id
for i = 4, #ARGV, 2 do
	redis.call('HSET', jobKey, ARGV[i], ARGV[i + 1])
end
redis.call('HSET', jobKey, 'id', id)
redis.call('RPUSH', KEYS[3], id)
redis.call('SADD', KEYS[4], id)
redis.call('SADD', KEYS[5], id)
for _, tag in ipairs(cjson.decode(ARGV[3])) do
	redis.call('SADD', ARGV[2] .. tag, id)
end
return id
`)

// claimScript pops the pending head and marks it running. Returns the
// claimed ID, or nil when the queue is empty. LPOP is what guarantees
// a job is delivered to at most one claimer.
//
// KEYS: 1=pending list, 2=status:queued set, 3=status:running set.
// ARGV: 1=job key prefix, 2=now.
var claimScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end
local jobKey = ARGV[1] .. id
redis.call('HSET', jobKey,
	'status', 'running',
	'started_at', ARGV[2],
	'last_heartbeat', ARGV[2],
	'updated_at', ARGV[2])
redis.call('SMOVE', KEYS[2], KEYS[3], id)
return id
`)

// transitionScript applies one validated status transition under
// compare-and-swap. The caller decides the transition in Go; the
// script refuses to apply it if the job's status (or, when a guard is
// given, its heartbeat) changed since the caller looked.
//
// Returns 1 applied, 0 CAS miss, -2 job gone.
//
// KEYS: 1=job key, 2=from status set, 3=to status set, 4=pending list,
// 5=delayed set.
// ARGV: 1=id, 2=expected status, 3=new status, 4=now,
// 5=stamp ended_at (0/1), 6=requeue mode (none|front|delayed),
// 7=ready-at score, 8=heartbeat guard ("" = none),
// 9=set output (0/1), 10=output, 11=drop pending entry (0/1),
// 12=set tags (0/1), 13=tags (JSON array), 14=tag key prefix.
var transitionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -2
end
if status ~= ARGV[2] then
	return 0
end
if ARGV[8] ~= '' and redis.call('HGET', KEYS[1], 'last_heartbeat') ~= ARGV[8] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'updated_at', ARGV[4])
if ARGV[5] == '1' then
	redis.call('HSET', KEYS[1], 'ended_at', ARGV[4])
end
if ARGV[9] == '1' then
	redis.call('HSET', KEYS[1], 'output', ARGV[10])
end
if ARGV[12] == '1' then
	local old = redis.call('HGET', KEYS[1], 'tags')
	if old then
		for _, tag in ipairs(cjson.decode(old)) do
			redis.call('SREM', ARGV[14] .. tag, ARGV[1])
		end
	end
	redis.call('HSET', KEYS[1], 'tags', ARGV[13])
	for _, tag in ipairs(cjson.decode(ARGV[13])) do
		redis.call('SADD', ARGV[14] .. tag, ARGV[1])
	end
end
if ARGV[11] == '1' then
	redis.call('LREM', KEYS[4], 0, ARGV[1])
	redis.call('ZREM', KEYS[5], ARGV[1])
end
if ARGV[6] ~= 'none' then
	local attempts = tonumber(redis.call('HGET', KEYS[1], 'retries_attempted') or '0') + 1
	redis.call('HSET', KEYS[1], 'retries_attempted', attempts)
	redis.call('HDEL', KEYS[1], 'started_at', 'last_heartbeat')
	if ARGV[6] == 'front' then
		redis.call('LPUSH', KEYS[4], ARGV[1])
	else
		redis.call('ZADD', KEYS[5], ARGV[7], ARGV[1])
	end
end
redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[1])
return 1
`)

// heartbeatScript stamps last_heartbeat on a running job.
// Returns 1 ok, 0 not running, -2 job gone.
//
// KEYS: 1=job key. ARGV: 1=now.
var heartbeatScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -2
end
if status ~= 'running' then
	return 0
end
redis.call('HSET', KEYS[1], 'last_heartbeat', ARGV[1], 'updated_at', ARGV[1])
return 1
`)

// setOutputScript overwrites the output field in any status.
// Returns 1 ok, 0 job gone.
//
// KEYS: 1=job key. ARGV: 1=output, 2=now.
var setOutputScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'output', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

// patchScript updates output and/or tags without touching status.
// Returns 1 ok, 0 job gone.
//
// KEYS: 1=job key.
// ARGV: 1=id, 2=now, 3=set output (0/1), 4=output, 5=set tags (0/1),
// 6=tags (JSON array), 7=tag key prefix.
var patchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if ARGV[3] == '1' then
	redis.call('HSET', KEYS[1], 'output', ARGV[4])
end
if ARGV[5] == '1' then
	local old = redis.call('HGET', KEYS[1], 'tags')
	if old then
		for _, tag in ipairs(cjson.decode(old)) do
			redis.call('SREM', ARGV[7] .. tag, ARGV[1])
		end
	end
	redis.call('HSET', KEYS[1], 'tags', ARGV[6])
	for _, tag in ipairs(cjson.decode(ARGV[6])) do
		redis.call('SADD', ARGV[7] .. tag, ARGV[1])
	end
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return 1
`)

// deleteJobScript removes the record and every index entry that
// references it. Returns 1 if a record was removed, 0 otherwise.
//
// KEYS: 1=job key.
// ARGV: 1=id, 2=queue key prefix, 3=status key prefix, 4=tag key
// prefix.
var deleteJobScript = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'queue', 'status', 'tags')
if not data[1] then
	return 0
end
local queueName, status, tags = data[1], data[2], data[3]
redis.call('LREM', ARGV[2] .. queueName .. ':pending', 0, ARGV[1])
redis.call('ZREM', ARGV[2] .. queueName .. ':delayed', ARGV[1])
redis.call('SREM', ARGV[2] .. queueName .. ':all', ARGV[1])
redis.call('SREM', ARGV[3] .. status, ARGV[1])
if tags then
	for _, tag in ipairs(cjson.decode(tags)) do
		redis.call('SREM', ARGV[4] .. tag, ARGV[1])
	end
end
redis.call('DEL', KEYS[1])
return 1
`)

// upsertQueueScript replaces the settings hash and registers the
// queue name. DEL first so fields removed by the update do not
// linger. Returns 1 if the queue was created, 0 if updated.
//
// KEYS: 1=settings hash, 2=queues set.
// ARGV: 1=queue name, 2..=field/value pairs.
var upsertQueueScript = redis.NewScript(`
local created = 1
if redis.call('EXISTS', KEYS[1]) == 1 then
	created = 0
end
redis.call('DEL', KEYS[1])
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('SADD', KEYS[2], ARGV[1])
return created
`)

// deleteQueueScript deletes the queue and cascades to every job it
// still owns, whatever their status. Returns the number of jobs
// removed, or -1 if the queue does not exist.
//
// KEYS: 1=settings hash, 2=pending list, 3=delayed set,
// 4=queue membership set, 5=queues set.
// ARGV: 1=job key prefix, 2=status key prefix, 3=tag key prefix,
// 4=queue name.
var deleteQueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local ids = redis.call('SMEMBERS', KEYS[4])
for _, id in ipairs(ids) do
	local jobKey = ARGV[1] .. id
	local data = redis.call('HMGET', jobKey, 'status', 'tags')
	if data[1] then
		redis.call('SREM', ARGV[2] .. data[1], id)
		if data[2] then
			for _, tag in ipairs(cjson.decode(data[2])) do
				redis.call('SREM', ARGV[3] .. tag, id)
			end
		end
	end
	redis.call('DEL', jobKey)
end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3], KEYS[4])
redis.call('SREM', KEYS[5], ARGV[4])
return #ids
`)

// queueSizeScript returns the pending list length, or -1 if the queue
// does not exist.
//
// KEYS: 1=settings hash, 2=pending list.
var queueSizeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('LLEN', KEYS[2])
`)

// promoteScript moves matured delayed retries to the front of the
// pending list, earliest-ready first. Returns how many moved.
//
// KEYS: 1=delayed set, 2=pending list. ARGV: 1=now score.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for i = #ids, 1, -1 do
	redis.call('LPUSH', KEYS[2], ids[i])
end
if #ids > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return #ids
`)
