package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cinexhq/seathold/internal/domain"
)

// Hold keys follow the seat_lock layout: one key per (showtime, seat) whose
// value is "holder|leaseMillis" and whose TTL is the lease, plus a
// per-showtime set of held seat ids and a registry of showtimes with
// outstanding holds so the reaper knows where to look. Carrying the lease in
// the value lets a renewal extend by the hold's own lease rather than a
// server-wide default.

// acquireScript takes every requested seat or none. A seat already owned by
// the caller is re-acquired with a fresh lease. On conflict it returns the
// contested seat ids and writes nothing.
var acquireScript = redis.NewScript(`
	-- KEYS = [registry, seat set, hold key...]
	-- ARGV = [holderId, ttlMillis, showtimeId, seatId...]

	local taken = {}
	for i = 3, #KEYS do
		local value = redis.call("GET", KEYS[i])
		if value and string.match(value, "^(.*)|%d+$") ~= ARGV[1] then
			table.insert(taken, tonumber(ARGV[i + 1]))
		end
	end

	if #taken > 0 then
		return taken
	end

	for i = 3, #KEYS do
		redis.call("SET", KEYS[i], ARGV[1] .. "|" .. ARGV[2], "PX", ARGV[2])
		redis.call("SADD", KEYS[2], ARGV[i + 1])
	end
	redis.call("SADD", KEYS[1], ARGV[3])

	return {}
`)

// renewScript extends the lease only for the current owner, by the lease
// stored with the hold. Returns the lease millis on success, -1 for a
// missing hold and -2 for a foreign one.
var renewScript = redis.NewScript(`
	-- KEYS = [hold key], ARGV = [holderId]

	local value = redis.call("GET", KEYS[1])
	if not value then
		return -1
	end

	local owner, lease = string.match(value, "^(.*)|(%d+)$")
	if owner ~= ARGV[1] then
		return -2
	end

	redis.call("PEXPIRE", KEYS[1], lease)
	return tonumber(lease)
`)

// releaseScript frees a seat only for the current owner. A missing hold is
// a success but reported distinctly: duplicate releases after network
// retries are expected and must not re-announce the release. Returns 1 when
// a hold was freed, 0 when there was nothing to free, -1 for a foreign hold.
var releaseScript = redis.NewScript(`
	-- KEYS = [seat set, hold key], ARGV = [holderId, seatId]

	local value = redis.call("GET", KEYS[2])
	if not value then
		redis.call("SREM", KEYS[1], ARGV[2])
		return 0
	end
	if string.match(value, "^(.*)|%d+$") ~= ARGV[1] then
		return -1
	end

	redis.call("DEL", KEYS[2])
	redis.call("SREM", KEYS[1], ARGV[2])
	return 1
`)

// commitScript removes the holds for a finalized booking, requiring the
// caller to own every listed seat, and reports the offenders otherwise.
var commitScript = redis.NewScript(`
	-- KEYS = [seat set, hold key...], ARGV = [holderId, seatId...]

	local notOwned = {}
	for i = 2, #KEYS do
		local value = redis.call("GET", KEYS[i])
		if not value or string.match(value, "^(.*)|%d+$") ~= ARGV[1] then
			table.insert(notOwned, tonumber(ARGV[i]))
		end
	end

	if #notOwned > 0 then
		return notOwned
	end

	for i = 2, #KEYS do
		redis.call("DEL", KEYS[i])
		redis.call("SREM", KEYS[1], ARGV[i])
	end

	return {}
`)

// reapScript walks a showtime's seat set and removes members whose hold key
// TTL already fired, returning the freed seat ids.
var reapScript = redis.NewScript(`
	-- KEYS = [seat set], ARGV = [showtimeId]

	local cursor = "0"
	local expired = {}

	repeat
		local result = redis.call("SSCAN", KEYS[1], cursor, "COUNT", 100)
		cursor = result[1]

		for _, seatId in ipairs(result[2]) do
			local holdKey = "seat_hold:" .. ARGV[1] .. ":" .. seatId
			if redis.call("EXISTS", holdKey) == 0 then
				table.insert(expired, tonumber(seatId))
			end
		end
	until cursor == "0"

	if #expired > 0 then
		redis.call("SREM", KEYS[1], unpack(expired))
	end

	return expired
`)

// Redis is the ledger backing for horizontally scaled deployments: every
// mutation is a single server-side script, so the per-key check-and-set is
// atomic across all engine instances. Leases ride on key TTLs, which means
// expiry is enforced by Redis itself even if no reaper ever runs; the reaper
// only turns already-expired keys into released events.
//
// Each event-producing mutation runs its script and publishes while holding
// a per-showtime mutex, so events leave this instance in apply order and the
// hub's derived caches stay consistent with the ledger.
type Redis struct {
	client    redis.UniversalClient
	publisher domain.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	showtimes map[int]*sync.Mutex
}

func NewRedis(client redis.UniversalClient, publisher domain.EventPublisher, logger *slog.Logger) *Redis {
	return &Redis{
		client:    client,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		showtimes: make(map[int]*sync.Mutex),
	}
}

func (r *Redis) showtimeMu(showtimeID int) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	mu, ok := r.showtimes[showtimeID]
	if !ok {
		mu = &sync.Mutex{}
		r.showtimes[showtimeID] = mu
	}

	return mu
}

func holdKey(showtimeID, seatID int) string {
	return fmt.Sprintf("seat_hold:%d:%d", showtimeID, seatID)
}

func seatSetKey(showtimeID int) string {
	return fmt.Sprintf("seat_holds:%d", showtimeID)
}

const showtimeRegistryKey = "seat_hold_showtimes"

// holdValueOwner strips the lease suffix from a hold key value. Holder ids
// never end in "|digits", but the split still takes the last separator in
// case one ever contains the character.
func holdValueOwner(value string) string {
	if i := strings.LastIndexByte(value, '|'); i >= 0 {
		return value[:i]
	}
	return value
}

func (r *Redis) Acquire(ctx context.Context, showtimeID, seatID int, holderID string, lease time.Duration) (domain.HoldRecord, error) {
	records, err := r.AcquireMany(ctx, showtimeID, []int{seatID}, holderID, lease)
	if err != nil {
		return domain.HoldRecord{}, err
	}

	return records[0], nil
}

func (r *Redis) AcquireMany(ctx context.Context, showtimeID int, seatIDs []int, holderID string, lease time.Duration) ([]domain.HoldRecord, error) {
	keys := make([]string, 0, len(seatIDs)+2)
	keys = append(keys, showtimeRegistryKey, seatSetKey(showtimeID))

	args := make([]interface{}, 0, len(seatIDs)+3)
	args = append(args, holderID, lease.Milliseconds(), showtimeID)

	for _, seatID := range seatIDs {
		keys = append(keys, holdKey(showtimeID, seatID))
		args = append(args, seatID)
	}

	mu := r.showtimeMu(showtimeID)
	mu.Lock()
	defer mu.Unlock()

	contested, err := r.runSeatScript(ctx, acquireScript, keys, args)
	if err != nil {
		return nil, err
	}

	if len(contested) > 0 {
		return nil, domain.NewSeatUnavailableError(contested)
	}

	now := r.now()
	records := make([]domain.HoldRecord, len(seatIDs))

	for i, seatID := range seatIDs {
		records[i] = domain.HoldRecord{
			ShowtimeID: showtimeID,
			SeatID:     seatID,
			HolderID:   holderID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(lease),
		}
		r.publisher.Publish(heldEvent(records[i]))
	}

	return records, nil
}

func (r *Redis) Renew(ctx context.Context, showtimeID, seatID int, holderID string) (domain.HoldRecord, error) {
	result, err := renewScript.Run(ctx, r.client,
		[]string{holdKey(showtimeID, seatID)}, holderID).Int64()
	if err != nil {
		return domain.HoldRecord{}, fmt.Errorf("failed to run renew script: %w", err)
	}

	switch result {
	case -1:
		return domain.HoldRecord{}, domain.ErrHoldNotFound
	case -2:
		return domain.HoldRecord{}, domain.ErrNotHolder
	}

	now := r.now()

	return domain.HoldRecord{
		ShowtimeID: showtimeID,
		SeatID:     seatID,
		HolderID:   holderID,
		ExpiresAt:  now.Add(time.Duration(result) * time.Millisecond),
	}, nil
}

func (r *Redis) Release(ctx context.Context, showtimeID, seatID int, holderID string) error {
	return r.ReleaseMany(ctx, showtimeID, []int{seatID}, holderID, domain.ReleaseByHolder)
}

func (r *Redis) ReleaseMany(ctx context.Context, showtimeID int, seatIDs []int, holderID string, reason domain.ReleaseReason) error {
	mu := r.showtimeMu(showtimeID)
	mu.Lock()
	defer mu.Unlock()

	for _, seatID := range seatIDs {
		result, err := releaseScript.Run(ctx, r.client,
			[]string{seatSetKey(showtimeID), holdKey(showtimeID, seatID)}, holderID, seatID).Int()
		if err != nil {
			return fmt.Errorf("failed to run release script: %w", err)
		}

		switch result {
		case -1:
			return domain.ErrNotHolder
		case 0:
			// Nothing was freed: either a duplicate release or a hold whose
			// TTL already fired. No event; an expired hold is announced by
			// the reaper, not re-announced here.
			continue
		}

		r.publisher.Publish(releasedEvent(domain.HoldRecord{
			ShowtimeID: showtimeID,
			SeatID:     seatID,
			HolderID:   holderID,
		}, reason))
	}

	return nil
}

func (r *Redis) Commit(ctx context.Context, showtimeID int, seatIDs []int, holderID string) error {
	keys := make([]string, 0, len(seatIDs)+1)
	keys = append(keys, seatSetKey(showtimeID))

	args := make([]interface{}, 0, len(seatIDs)+1)
	args = append(args, holderID)

	for _, seatID := range seatIDs {
		keys = append(keys, holdKey(showtimeID, seatID))
		args = append(args, seatID)
	}

	mu := r.showtimeMu(showtimeID)
	mu.Lock()
	defer mu.Unlock()

	notOwned, err := r.runSeatScript(ctx, commitScript, keys, args)
	if err != nil {
		return err
	}

	if len(notOwned) > 0 {
		return domain.NewPartialOwnershipError(notOwned)
	}

	for _, seatID := range seatIDs {
		r.publisher.Publish(releasedEvent(domain.HoldRecord{
			ShowtimeID: showtimeID,
			SeatID:     seatID,
			HolderID:   holderID,
		}, domain.ReleaseToBooked))
	}

	return nil
}

func (r *Redis) Snapshot(ctx context.Context, showtimeID int) ([]domain.HoldRecord, error) {
	seatIDs, err := r.client.SMembers(ctx, seatSetKey(showtimeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read seat set: %w", err)
	}

	if len(seatIDs) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()

	owners := make([]*redis.StringCmd, len(seatIDs))
	ttls := make([]*redis.DurationCmd, len(seatIDs))

	for i, seatID := range seatIDs {
		key := fmt.Sprintf("seat_hold:%d:%s", showtimeID, seatID)
		owners[i] = pipe.Get(ctx, key)
		ttls[i] = pipe.PTTL(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read hold keys: %w", err)
	}

	now := r.now()
	records := make([]domain.HoldRecord, 0, len(seatIDs))

	for i, seatID := range seatIDs {
		value, err := owners[i].Result()
		if err != nil {
			// Key expired between SMEMBERS and the pipeline; the reaper will
			// prune the set member.
			continue
		}
		owner := holdValueOwner(value)

		id, err := strconv.Atoi(seatID)
		if err != nil {
			continue
		}

		records = append(records, domain.HoldRecord{
			ShowtimeID: showtimeID,
			SeatID:     id,
			HolderID:   owner,
			ExpiresAt:  now.Add(ttls[i].Val()),
		})
	}

	sortRecords(records)

	return records, nil
}

// ActiveShowtimes lists showtimes with outstanding holds, from the registry
// set maintained by the acquire script.
func (r *Redis) ActiveShowtimes(ctx context.Context) ([]int, error) {
	members, err := r.client.SMembers(ctx, showtimeRegistryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read showtime registry: %w", err)
	}

	showtimes := make([]int, 0, len(members))
	for _, member := range members {
		if id, err := strconv.Atoi(member); err == nil {
			showtimes = append(showtimes, id)
		}
	}

	return showtimes, nil
}

func (r *Redis) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	showtimes, err := r.ActiveShowtimes(ctx)
	if err != nil {
		return 0, err
	}

	freed := 0

	for _, showtimeID := range showtimes {
		mu := r.showtimeMu(showtimeID)
		mu.Lock()

		expired, err := r.runSeatScript(ctx, reapScript, []string{seatSetKey(showtimeID)}, []interface{}{showtimeID})
		if err != nil {
			mu.Unlock()
			return freed, err
		}

		for _, seatID := range expired {
			// The hold key is gone, so the original holder is unknown here;
			// the event still tells every subscriber the seat is free again.
			r.publisher.Publish(releasedEvent(domain.HoldRecord{
				ShowtimeID: showtimeID,
				SeatID:     seatID,
			}, domain.ReleaseExpired))
		}

		mu.Unlock()

		freed += len(expired)

		remaining, err := r.client.SCard(ctx, seatSetKey(showtimeID)).Result()
		if err == nil && remaining == 0 {
			r.client.SRem(ctx, showtimeRegistryKey, showtimeID)
		}
	}

	return freed, nil
}

// runSeatScript runs a script that returns a (possibly empty) list of seat
// ids.
func (r *Redis) runSeatScript(ctx context.Context, script *redis.Script, keys []string, args []interface{}) ([]int, error) {
	raw, err := script.Run(ctx, r.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to run seat script: %w", err)
	}

	seatIDs := make([]int, 0, len(raw))
	for _, v := range raw {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element %T", v)
		}
		seatIDs = append(seatIDs, int(n))
	}

	return seatIDs, nil
}
