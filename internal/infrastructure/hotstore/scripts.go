package hotstore

import "github.com/redis/go-redis/v9"

// All live-state mutations go through these scripts so that validation and
// write happen as one serialized step per auction. Redis runs scripts
// single-threaded, which is what gives P1/P2/P3 their per-key linearization.
//
// Conventions shared by every script:
//   - prices are integer cents, times are epoch milliseconds
//   - the first element of the reply is a status tag
//   - replies never contain nil (Lua tables truncate at nil)

// placeBid validates and applies a bid.
//
// KEYS: 1 auction hash, 2 bid-history zset, 3 active index
// ARGV: 1 bidderID, 2 bidderName, 3 amountCents, 4 serverTimeMs, 5 bidID, 6 retentionMs
//
// Replies:
//
//	{'NOT_FOUND'} | {'NOT_ACTIVE', status} | {'ENDED'} | {'SELLER'}
//	{'TOO_LOW', currentCents, minimumCents, isFirst}
//	{'OK', previousCents, previousBidder, totalBids, endTimeMs, isFirst}
var placeBidScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'NOT_FOUND'}
end
local a = redis.call('HMGET', KEYS[1], 'status', 'seller_id', 'starting_price',
  'bid_increment', 'current_bid', 'total_bids', 'end_time', 'highest_bidder_id')
local status = a[1]
if status ~= 'active' then
  if status == 'ended' then
    return {'ENDED'}
  end
  return {'NOT_ACTIVE', status}
end
local server_time = tonumber(ARGV[4])
local end_time = tonumber(a[7])
if server_time >= end_time then
  return {'ENDED'}
end
if ARGV[1] == a[2] then
  return {'SELLER'}
end
local total = tonumber(a[6]) or 0
local amount = tonumber(ARGV[3])
local current = 0
local minimum
if total == 0 then
  minimum = tonumber(a[3])
else
  current = tonumber(a[5]) or 0
  minimum = current + tonumber(a[4])
end
if amount < minimum then
  local first = 0
  if total == 0 then first = 1 end
  return {'TOO_LOW', current, minimum, first}
end
local prev_bidder = a[8]
if not prev_bidder then prev_bidder = '' end
redis.call('HSET', KEYS[1],
  'current_bid', amount,
  'highest_bidder_id', ARGV[1],
  'highest_bidder_name', ARGV[2],
  'total_bids', total + 1)
local entry = {bid_id = ARGV[5], bidder_id = ARGV[1], bidder_name = ARGV[2],
  amount = amount, server_time = server_time}
if total > 0 then
  entry.previous_bid = current
end
redis.call('ZADD', KEYS[2], amount, cjson.encode(entry))
local expire_at = end_time + tonumber(ARGV[6])
redis.call('PEXPIREAT', KEYS[1], expire_at)
redis.call('PEXPIREAT', KEYS[2], expire_at)
local first = 0
if total == 0 then first = 1 end
return {'OK', current, prev_bidder, total + 1, end_time, first}
`)

// extendDeadline applies the anti-snipe policy. The decision reads the
// store's own end_time, so a bid that raced a concurrent extension can never
// double-extend off a stale deadline.
//
// KEYS: 1 auction hash, 2 active index, 3 bid-history zset
// ARGV: 1 serverTimeMs, 2 thresholdMs, 3 durationMs, 4 retentionMs, 5 auctionID
//
// Replies: {'NOT_FOUND'} | {'NOT_ACTIVE'} | {'NO', endTimeMs} | {'YES', oldEndMs, newEndMs}
var extendDeadlineScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'NOT_FOUND'}
end
local v = redis.call('HMGET', KEYS[1], 'status', 'end_time')
if v[1] ~= 'active' then
  return {'NOT_ACTIVE'}
end
local now = tonumber(ARGV[1])
local end_time = tonumber(v[2])
local remaining = end_time - now
if remaining < 0 or remaining > tonumber(ARGV[2]) then
  return {'NO', end_time}
end
local new_end = end_time + tonumber(ARGV[3])
redis.call('HSET', KEYS[1], 'end_time', new_end)
redis.call('ZADD', KEYS[2], new_end, ARGV[5])
local expire_at = new_end + tonumber(ARGV[4])
redis.call('PEXPIREAT', KEYS[1], expire_at)
redis.call('PEXPIREAT', KEYS[3], expire_at)
return {'YES', end_time, new_end}
`)

// finalizeAuction flips an auction to ended exactly once. It deliberately
// does not compare the clock against end_time: deciding when to finalize is
// the coordinator's job, this script only makes the transition idempotent.
//
// KEYS: 1 auction hash, 2 active index, 3 bid-history zset
// ARGV: 1 serverTimeMs, 2 retentionMs, 3 auctionID
//
// Replies:
//
//	{'NOT_FOUND'} | {'ALREADY'}
//	{'OK', winnerID, winnerName, winningCents, totalBids, endTimeMs}
var finalizeAuctionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'NOT_FOUND'}
end
local v = redis.call('HMGET', KEYS[1], 'status', 'highest_bidder_id',
  'highest_bidder_name', 'current_bid', 'total_bids', 'end_time')
if v[1] == 'ended' or v[1] == 'cancelled' then
  return {'ALREADY'}
end
redis.call('HSET', KEYS[1], 'status', 'ended')
redis.call('ZREM', KEYS[2], ARGV[3])
local expire_at = tonumber(ARGV[1]) + tonumber(ARGV[2])
redis.call('PEXPIREAT', KEYS[1], expire_at)
redis.call('PEXPIREAT', KEYS[3], expire_at)
local total = tonumber(v[5]) or 0
local winner = ''
local winner_name = ''
local winning = 0
if total > 0 then
  winner = v[2]
  winner_name = v[3]
  if not winner then winner = '' end
  if not winner_name then winner_name = '' end
  winning = tonumber(v[4]) or 0
end
return {'OK', winner, winner_name, winning, total, tonumber(v[6])}
`)

// installAuction hydrates a record only when absent. A hydration that loses
// the race must not clobber bids accepted since the winner installed, so the
// existence check and the write are one atomic step.
//
// KEYS: 1 auction hash, 2 active index, 3 bid-history zset
// ARGV: 1 auctionID, 2 sellerID, 3 title, 4 currency, 5 startingCents,
//
//	6 incrementCents, 7 reserveCents(''=none), 8 currentCents(''=none),
//	9 highestBidderID, 10 highestBidderName, 11 totalBids, 12 startMs,
//	13 endMs, 14 originalEndMs, 15 status, 16 retentionMs
//
// Replies: 0 already present, 1 installed
var installAuctionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'seller_id', ARGV[2],
  'title', ARGV[3],
  'currency', ARGV[4],
  'starting_price', ARGV[5],
  'bid_increment', ARGV[6],
  'reserve_price', ARGV[7],
  'current_bid', ARGV[8],
  'highest_bidder_id', ARGV[9],
  'highest_bidder_name', ARGV[10],
  'total_bids', ARGV[11],
  'start_time', ARGV[12],
  'end_time', ARGV[13],
  'original_end_time', ARGV[14],
  'status', ARGV[15])
local end_time = tonumber(ARGV[13])
if ARGV[15] == 'active' then
  redis.call('ZADD', KEYS[2], end_time, ARGV[1])
end
local expire_at = end_time + tonumber(ARGV[16])
redis.call('PEXPIREAT', KEYS[1], expire_at)
if redis.call('EXISTS', KEYS[3]) == 1 then
  redis.call('PEXPIREAT', KEYS[3], expire_at)
end
return 1
`)

// cancelAuction is the administrative stop. Same idempotence contract as
// finalize: only the call that makes the transition reports OK.
//
// KEYS: 1 auction hash, 2 active index
// ARGV: 1 auctionID, 2 serverTimeMs, 3 retentionMs
//
// Replies: {'NOT_FOUND'} | {'ALREADY'} | {'OK', totalBids}
var cancelAuctionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'NOT_FOUND'}
end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'ended' or status == 'cancelled' then
  return {'ALREADY'}
end
redis.call('HSET', KEYS[1], 'status', 'cancelled')
redis.call('ZREM', KEYS[2], ARGV[1])
local expire_at = tonumber(ARGV[2]) + tonumber(ARGV[3])
redis.call('PEXPIREAT', KEYS[1], expire_at)
local total = redis.call('HGET', KEYS[1], 'total_bids')
return {'OK', tonumber(total) or 0}
`)
