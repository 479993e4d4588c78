package redis

import "github.com/redis/go-redis/v9"

// Every script answers with a flat array: a status word first, then for OK the
// trip hash as HGETALL pairs. A whole script runs atomically on the server.
const (
	statusOK           = "OK"
	statusNotFound     = "NOT_FOUND"
	statusExists       = "EXISTS"
	statusInsufficient = "INSUFFICIENT"
	statusResolved     = "RESOLVED"
	statusExpired      = "EXPIRED"
)

// KEYS[1] trip
// ARGV    trip field/value pairs
var createTripScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return {'EXISTS'} end
redis.call('HSET', KEYS[1], unpack(ARGV))
local out = {'OK'}
local inv = redis.call('HGETALL', KEYS[1])
for i = 1, #inv do out[#out + 1] = inv[i] end
return out
`)

// KEYS[1] trip, KEYS[2] hold, KEYS[3] active holds index
// A hold id that is already stored is a retry: the trip is returned unchanged.
// ARGV[1] seat count, ARGV[2] expires_at ms, ARGV[3] hold id, ARGV[4] now ms, ARGV[5..] hold field/value pairs
var tryHoldScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {'NOT_FOUND'} end
if redis.call('EXISTS', KEYS[2]) == 1 then
	local out = {'OK'}
	local inv = redis.call('HGETALL', KEYS[1])
	for i = 1, #inv do out[#out + 1] = inv[i] end
	return out
end
local count = tonumber(ARGV[1])
local available = tonumber(redis.call('HGET', KEYS[1], 'available'))
if available < count then return {'INSUFFICIENT'} end
redis.call('HINCRBY', KEYS[1], 'available', -count)
redis.call('HINCRBY', KEYS[1], 'held', count)
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
redis.call('HSET', KEYS[2], unpack(ARGV, 5))
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[3])
local out = {'OK'}
local inv = redis.call('HGETALL', KEYS[1])
for i = 1, #inv do out[#out + 1] = inv[i] end
return out
`)

// KEYS[1] hold, KEYS[2] active holds index, KEYS[3] trip, KEYS[4] booking, KEYS[5] booking-by-hold
// ARGV[1] target state, ARGV[2] now ms, ARGV[3] hold id, ARGV[4] booking id, ARGV[5..] booking field/value pairs
var resolveHoldScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return {'NOT_FOUND'} end
if state ~= 'active' then return {'RESOLVED'} end
local to = ARGV[1]
if to == 'confirmed' and tonumber(ARGV[2]) >= tonumber(redis.call('HGET', KEYS[1], 'expires_at')) then
	return {'EXPIRED'}
end
local count = tonumber(redis.call('HGET', KEYS[1], 'seat_count'))
redis.call('HSET', KEYS[1], 'state', to, 'resolved_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[3])
redis.call('HINCRBY', KEYS[3], 'held', -count)
if to == 'confirmed' then
	redis.call('HINCRBY', KEYS[3], 'booked', count)
	redis.call('HSET', KEYS[4], unpack(ARGV, 5))
	redis.call('HSET', KEYS[4], 'no_of_seats', count, 'status', 'confirmed')
	redis.call('SET', KEYS[5], ARGV[4])
else
	redis.call('HINCRBY', KEYS[3], 'available', count)
end
redis.call('HINCRBY', KEYS[3], 'version', 1)
redis.call('HSET', KEYS[3], 'updated_at', ARGV[2])
local out = {'OK'}
local inv = redis.call('HGETALL', KEYS[3])
for i = 1, #inv do out[#out + 1] = inv[i] end
return out
`)

// KEYS[1] booking, KEYS[2] trip, KEYS[3] refund, KEYS[4] refund-by-booking, KEYS[5] pending refunds index
// ARGV[1] now ms, ARGV[2] reason, ARGV[3] refund id, ARGV[4..] refund field/value pairs
var cancelBookingScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return {'NOT_FOUND'} end
if status ~= 'confirmed' then return {'RESOLVED'} end
local seats = tonumber(redis.call('HGET', KEYS[1], 'no_of_seats'))
local amount = redis.call('HGET', KEYS[1], 'amount_paid')
redis.call('HSET', KEYS[1], 'status', 'cancelled', 'cancelled_at', ARGV[1], 'cancel_reason', ARGV[2])
redis.call('HINCRBY', KEYS[2], 'booked', -seats)
redis.call('HINCRBY', KEYS[2], 'available', seats)
redis.call('HINCRBY', KEYS[2], 'version', 1)
redis.call('HSET', KEYS[2], 'updated_at', ARGV[1])
redis.call('HSET', KEYS[3], unpack(ARGV, 4))
redis.call('HSET', KEYS[3], 'amount', amount, 'status', 'pending')
redis.call('SET', KEYS[4], ARGV[3])
redis.call('ZADD', KEYS[5], ARGV[1], ARGV[3])
local out = {'OK'}
local inv = redis.call('HGETALL', KEYS[2])
for i = 1, #inv do out[#out + 1] = inv[i] end
return out
`)

// KEYS[1] refund, KEYS[2] index of the source status, KEYS[3] index of the target status
// ARGV[1] from, ARGV[2] to, ARGV[3] now ms, ARGV[4] refund id, ARGV[5] actor
var transitionRefundScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return {'NOT_FOUND'} end
if status ~= ARGV[1] then return {'RESOLVED'} end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
if ARGV[2] == 'confirmed' then
	redis.call('HSET', KEYS[1], 'confirmed_at', ARGV[3], 'confirmed_by', ARGV[5])
elseif ARGV[2] == 'refunded' then
	redis.call('HSET', KEYS[1], 'refunded_at', ARGV[3])
end
redis.call('ZREM', KEYS[2], ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
return {'OK'}
`)
