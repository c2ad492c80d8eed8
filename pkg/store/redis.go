package store

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/pulseguard/pulseguard/pkg/heartrate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const keyPrefix = "heartrate:"

// RedisStore keeps each subject's samples in a sorted set scored by unix milliseconds.
// Members are the encoded sample, so a reading appended twice is stored once.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Retention is the key expiry, refreshed on every append. Zero disables expiry.
	Retention time.Duration
}

// NewRedisStore connects to redis and checks the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     50,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", opts.Addr)
	}

	return NewRedisStoreFromClient(rdb, opts.Retention), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

// Append stores samples for subject.
func (rs *RedisStore) Append(ctx context.Context, subject string, samples ...heartrate.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	members := make([]*redis.Z, len(samples))
	for i, s := range samples {
		m, err := encodeMember(s)
		if err != nil {
			return err
		}
		members[i] = &redis.Z{Score: float64(s.Time.UnixMilli()), Member: m}
	}

	key := subjectKey(subject)
	pipe := rs.client.TxPipeline()
	pipe.ZAdd(ctx, key, members...)
	if rs.retention > 0 {
		pipe.Expire(ctx, key, rs.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "appending samples for %s", subject)
	}
	return nil
}

// Range returns the samples of subject taken in [from, to], oldest first.
func (rs *RedisStore) Range(ctx context.Context, subject string, from, to time.Time) ([]heartrate.Sample, error) {
	key := subjectKey(subject)

	exists, err := rs.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "looking up %s", subject)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	vals, err := rs.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: millis(from),
		Max: millis(to),
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "reading samples for %s", subject)
	}

	samples := make([]heartrate.Sample, 0, len(vals))
	for _, v := range vals {
		s, err := decodeMember(v)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Trim drops the samples of subject taken before cutoff.
func (rs *RedisStore) Trim(ctx context.Context, subject string, before time.Time) error {
	err := rs.client.ZRemRangeByScore(ctx, subjectKey(subject), "-inf", "("+millis(before)).Err()
	return errors.Wrapf(err, "trimming samples for %s", subject)
}

// Close releases resources.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func subjectKey(subject string) string {
	return keyPrefix + subject
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func encodeMember(s heartrate.Sample) (string, error) {
	// the same instant must encode the same whatever its location
	s.Time = s.Time.UTC()
	b, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "encoding sample")
	}
	return string(b), nil
}

func decodeMember(v string) (heartrate.Sample, error) {
	var s heartrate.Sample
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return s, errors.Wrap(err, "decoding sample")
	}
	return s, nil
}
