package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseguard/pulseguard/pkg/heartrate"
)

var t0 = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func at(hours int, bpm float64) heartrate.Sample {
	return heartrate.Sample{Time: t0.Add(time.Duration(hours) * time.Hour), BPM: bpm}
}

// exerciseStore runs the HistoryStore contract against s.
func exerciseStore(t *testing.T, s HistoryStore, subject string) {
	ctx := context.Background()

	_, err := s.Range(ctx, subject, t0, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Append(ctx, subject, at(2, 72), at(0, 70)))
	require.NoError(t, s.Append(ctx, subject, at(1, 71), at(5, 90)))
	require.NoError(t, s.Append(ctx, subject))

	// the same reading posted again, once in another zone, is stored once
	again := at(2, 72)
	again.Time = again.Time.In(time.FixedZone("CET", 3600))
	require.NoError(t, s.Append(ctx, subject, at(1, 71), again))

	got, err := s.Range(ctx, subject, t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{70, 71, 72}, heartrate.Values(got))
	assert.True(t, got[0].Time.Equal(t0))

	require.NoError(t, s.Trim(ctx, subject, t0.Add(time.Hour)))
	got, err = s.Range(ctx, subject, t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{71, 72, 90}, heartrate.Values(got))

	require.NoError(t, s.Trim(ctx, subject, t0.Add(24*time.Hour)))
	_, err = s.Range(ctx, subject, t0, t0.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound, "trimming everything forgets the subject")
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	exerciseStore(t, s, "alice")

	t.Run("subjects are independent", func(t *testing.T) {
		_, err := s.Range(context.Background(), "bob", t0, t0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("readings at one instant keep distinct values", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, "carol", at(0, 61), at(0, 60), at(0, 61)))
		got, err := s.Range(ctx, "carol", t0, t0)
		require.NoError(t, err)
		assert.Equal(t, []float64{60, 61}, heartrate.Values(got))
	})
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, time.Hour)
	defer s.Close()

	exerciseStore(t, s, "alice")

	t.Run("append refreshes expiry", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, "bob", at(0, 60)))
		assert.Equal(t, time.Hour, mr.TTL(subjectKey("bob")))

		mr.FastForward(30 * time.Minute)
		require.NoError(t, s.Append(ctx, "bob", at(1, 61)))
		assert.Equal(t, time.Hour, mr.TTL(subjectKey("bob")))
	})

	t.Run("readings at one instant keep distinct values", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, "carol", at(0, 61), at(0, 60), at(0, 61)))
		got, err := s.Range(ctx, "carol", t0, t0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []float64{60, 61}, heartrate.Values(got))
	})

	t.Run("no retention leaves keys persistent", func(t *testing.T) {
		persistent := NewRedisStoreFromClient(client, 0)
		require.NoError(t, persistent.Append(context.Background(), "dave", at(0, 60)))
		assert.Zero(t, mr.TTL(subjectKey("dave")))
	})
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestRedisStoreServer(t *testing.T) {
	addr := os.Getenv("PULSEGUARD_TEST_REDIS")
	if addr == "" {
		t.Skip("PULSEGUARD_TEST_REDIS not set")
	}

	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Retention: time.Hour})
	require.NoError(t, err)
	defer s.Close()

	subject := "test-" + time.Now().Format("150405.000000")
	defer s.client.Del(ctx, subjectKey(subject))

	exerciseStore(t, s, subject)
}

func TestMemberCodec(t *testing.T) {
	in := at(3, 77.5)
	m, err := encodeMember(in)
	require.NoError(t, err)

	out, err := decodeMember(m)
	require.NoError(t, err)
	assert.True(t, in.Time.Equal(out.Time))
	assert.Equal(t, in.BPM, out.BPM)

	_, err = decodeMember("{not json")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "heartrate:alice", subjectKey("alice"))
	assert.Equal(t, "1710057600000", millis(t0))
}
