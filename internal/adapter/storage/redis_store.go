package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/planet42129/hdmp-redis/internal/port"
)

const (
	SeckillStockKeyPrefix = "seckill:stock:"
	SeckillOrderKeyPrefix = "seckill:order:"
)

const compareAndDeleteLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// reserveVoucherLua collapses the stock check, the one-order-per-user check,
// the reservation and the log append into one atomic evaluation. KEYS[1] is
// the order stream; ARGV are voucherId, userId, orderId.
const reserveVoucherLua = `
local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]

local stockKey = 'seckill:stock:' .. voucherId
local orderKey = 'seckill:order:' .. voucherId

if tonumber(redis.call('GET', stockKey) or '0') <= 0 then
	return 1
end
if redis.call('SISMEMBER', orderKey, userId) == 1 then
	return 2
end

redis.call('INCRBY', stockKey, -1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', KEYS[1], '*', 'userId', userId, 'voucherId', voucherId, 'id', orderId)
return 0
`

type RedisStore struct {
	client *redis.Client
	stream string

	compareAndDelete *redis.Script
	reserveVoucher   *redis.Script
}

var (
	_ port.CacheStore     = (*RedisStore)(nil)
	_ port.AdmissionStore = (*RedisStore)(nil)
	_ port.OrderLog       = (*RedisStore)(nil)
)

func NewRedisStore(client *redis.Client, stream string) *RedisStore {
	return &RedisStore{
		client:           client,
		stream:           stream,
		compareAndDelete: redis.NewScript(compareAndDeleteLua),
		reserveVoucher:   redis.NewScript(reserveVoucherLua),
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	res, err := r.compareAndDelete.Run(ctx, r.client, []string{key}, expect).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *RedisStore) ReserveVoucher(ctx context.Context, voucherID, userID, orderID int64) (port.AdmissionCode, error) {
	res, err := r.reserveVoucher.Run(ctx, r.client, []string{r.stream},
		strconv.FormatInt(voucherID, 10),
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(orderID, 10),
	).Int64()
	if err != nil {
		return 0, err
	}
	return port.AdmissionCode(res), nil
}

func (r *RedisStore) SetStock(ctx context.Context, voucherID int64, stock int) error {
	return r.client.Set(ctx, SeckillStockKeyPrefix+strconv.FormatInt(voucherID, 10), stock, 0).Err()
}

func (r *RedisStore) EnsureGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *RedisStore) ReadNew(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]port.LogEntry, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return flattenStreams(streams), nil
}

func (r *RedisStore) ReadPending(ctx context.Context, group, consumer string, count int64) ([]port.LogEntry, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.stream, "0"},
		Count:    count,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return flattenStreams(streams), nil
}

func (r *RedisStore) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.client.XAck(ctx, r.stream, group, ids...).Err()
}

func flattenStreams(streams []redis.XStream) []port.LogEntry {
	var out []port.LogEntry
	for _, s := range streams {
		for _, m := range s.Messages {
			values := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				if str, ok := v.(string); ok {
					values[k] = str
				}
			}
			out = append(out, port.LogEntry{ID: m.ID, Values: values})
		}
	}
	return out
}
