package backend

import "github.com/redis/go-redis/v9"

// Every script reads the clock with TIME so that expiry is judged by the
// server, never by whichever client happens to be asking.
const luaNow = `
if redis.replicate_commands then redis.replicate_commands() end
local t = redis.call('TIME')
local now = tonumber(t[1]) + tonumber(t[2]) / 1000000
`

// KEYS[1] value key, KEYS[2] ttl index. Returns {value|false, expired}.
var getScript = redis.NewScript(luaNow + `
local value = redis.call('GET', KEYS[1])
if not value then
	return {false, 1}
end
local exp = redis.call('ZSCORE', KEYS[2], KEYS[1])
if not exp or tonumber(exp) < now then
	return {value, 1}
end
return {value, 0}
`)

// KEYS[1] value key, KEYS[2] ttl index, ARGV[1] value, ARGV[2] ttl seconds.
var setScript = redis.NewScript(luaNow + `
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], now + tonumber(ARGV[2]), KEYS[1])
return 1
`)

// KEYS[1] value key, KEYS[2] ttl index.
var deleteScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], KEYS[1])
return 1
`)

// KEYS[1] ttl index.
var getExpiredScript = redis.NewScript(luaNow + `
return redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now)
`)

// KEYS[1] ttl index, ARGV[1] window seconds.
var getByTTLScript = redis.NewScript(luaNow + `
return redis.call('ZRANGEBYSCORE', KEYS[1], now, now + tonumber(ARGV[1]))
`)

// KEYS[1] lock name, ARGV[1] token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
