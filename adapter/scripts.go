package adapter

import "github.com/redis/go-redis/v9"

// Script texts are bit-exact across adapter implementations; server compatibility requires
// these specific shapes.

const conditionalDeleteSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

const conditionalExtendSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`

const atomicExtendSrc = `
local cur = redis.call("PTTL", KEYS[1])
local minTtl = tonumber(ARGV[2]); local newTtl = tonumber(ARGV[3])
if cur == -2 then return {-1, -2} end
if cur < minTtl then return {0, cur} end
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], newTtl); return {1, cur}
else
  return {-1, cur}
end
`

const batchSetIfAbsentSrc = `
local n = #KEYS
for i = 1, n do
  if redis.call("EXISTS", KEYS[i]) == 1 then
    return {0, i, KEYS[i]}
  end
end
local ttl = tonumber(ARGV[n + 1])
for i = 1, n do
  redis.call("SET", KEYS[i], ARGV[i], "PX", ttl)
end
return {1, n}
`

const inspectSrc = `
local v = redis.call("GET", KEYS[1])
if v == false then
  return false
end
local ttl = redis.call("PTTL", KEYS[1])
return {v, ttl}
`

// scriptName identifies one of the server-side scripts for the SHA cache.
type scriptName string

const (
	scriptConditionalDelete scriptName = "conditional_delete"
	scriptConditionalExtend scriptName = "conditional_extend"
	scriptAtomicExtend      scriptName = "atomic_extend"
	scriptBatchSetIfAbsent  scriptName = "batch_set_if_absent"
	scriptInspect           scriptName = "inspect"
)

// scriptTexts maps a logical script name to its Lua source.
var scriptTexts = map[scriptName]string{
	scriptConditionalDelete: conditionalDeleteSrc,
	scriptConditionalExtend: conditionalExtendSrc,
	scriptAtomicExtend:      atomicExtendSrc,
	scriptBatchSetIfAbsent:  batchSetIfAbsentSrc,
	scriptInspect:           inspectSrc,
}

// redisScripts are pre-built go-redis Script wrappers, one per logical
// script, grounded on cronlock/internal/lock/redis.go's package-level
// releaseScript/extendScript values.
var redisScripts = map[scriptName]*redis.Script{
	scriptConditionalDelete: redis.NewScript(conditionalDeleteSrc),
	scriptConditionalExtend: redis.NewScript(conditionalExtendSrc),
	scriptAtomicExtend:      redis.NewScript(atomicExtendSrc),
	scriptBatchSetIfAbsent:  redis.NewScript(batchSetIfAbsentSrc),
	scriptInspect:           redis.NewScript(inspectSrc),
}
