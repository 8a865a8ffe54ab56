package jobs

import "github.com/redis/go-redis/v9"

// promote moves due members of the delayed zset onto the ready list. Read
// and remove happen in one script so two promoters racing on the same queue
// can never deliver a job twice.
//
// KEYS: 1 delayed zset, 2 ready list
// ARGV: 1 nowMs, 2 batch limit
//
// Reply: number of jobs moved
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #due == 0 then
  return 0
end
for i = 1, #due do
  redis.call('RPUSH', KEYS[2], due[i])
end
redis.call('ZREM', KEYS[1], unpack(due))
return #due
`)
